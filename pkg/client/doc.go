// Package client is the GreenLedger Go SDK.
//
// It wraps the ledgerd HTTP API: signing in as a supply-chain actor or
// administrator, submitting stages, reading and verifying chains, and the
// public batch lookup printed on product labels.
//
// # Submitting a stage
//
//	c, _ := client.New("http://localhost:8080")
//	if _, err := c.Login(ctx, "thermal", "Roast Master"); err != nil {
//	    log.Fatal(err)
//	}
//	block, err := c.SubmitStage(ctx, client.StageRequest{
//	    BatchID: "COF-2026-001",
//	    Data:    map[string]any{"energyKwh": 120, "gasM3": 14},
//	})
//
// The session token is kept on the Client and attached to every later call.
// Use WithToken to reuse a token obtained earlier.
//
// # Public lookup
//
// The lookup endpoint needs no session. It accepts raw batch ids as well as
// the ?verify= and ?calc= links encoded in label QR codes:
//
//	c, _ := client.New(ledgerURL, client.WithCacheTTL(30*time.Second))
//	report, err := c.Lookup(ctx, "https://greenledger.example/?verify=COF-2026-001")
//	fmt.Println(report.CertificateID, report.Valid)
package client
