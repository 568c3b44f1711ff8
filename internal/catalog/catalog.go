// Package catalog lists the production categories GreenLedger knows about,
// the ordered roles that sign stages in each, and the products they make.
package catalog

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	ErrUnknownCategory = errors.New("unknown category")
	ErrUnknownRole     = errors.New("role does not belong to category")
	ErrUnknownProduct  = errors.New("product does not belong to category")
)

// Product is one product line within a category.
type Product struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Code int    `json:"code"`
}

// Category is a production process with its ordered stage roles.
type Category struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Code     int       `json:"code"`
	Roles    []string  `json:"roles"`
	Products []Product `json:"products"`
}

var categories = []Category{
	{
		ID: "thermal", Name: "Thermal Processing", Code: 100,
		Roles: []string{
			"Raw Material Sourcer", "Quality Grader", "Roast Master", "Cooling Operator",
			"Degassing Supervisor", "Packaging Specialist", "Storage Manager",
		},
		Products: []Product{{"coffee", "Coffee", 101}, {"chemicals", "Chemicals", 102}},
	},
	{
		ID: "mixing", Name: "Mixing & Formulation", Code: 200,
		Roles: []string{
			"Ingredient Procurement Manager", "Formulation Scientist", "Weighing & Batching Technician",
			"Mix Operator", "Dough Technician", "QC Analyst", "Process Engineer",
		},
		Products: []Product{{"pharma", "Pharma", 201}, {"food", "Food Dough", 202}},
	},
	{
		ID: "fermentation", Name: "Fermentation", Code: 300,
		Roles: []string{
			"Substrate Preparer", "Culture Master", "Fermentation Tech", "Maturation Supervisor",
			"Microbial Controller", "Stabilization Specialist", "Blending Master",
		},
		Products: []Product{{"brewing", "Brewing", 301}, {"bioplastics", "Bio-plastics", 302}},
	},
	{
		ID: "extraction", Name: "Extraction & Refining", Code: 400,
		Roles: []string{
			"Raw Ore Handler", "Solvent Specialist", "Extraction Operator", "Filtration Tech",
			"Refining Manager", "Purity Lab Analyst", "Waste Compliance Officer",
		},
		Products: []Product{{"oils", "Essential Oils", 401}, {"lithium", "Lithium", 402}},
	},
	{
		ID: "assembly", Name: "Assembly", Code: 500,
		Roles: []string{
			"Component Inbound", "Micro-Assembly Tech", "Integration Specialist", "Quality Assurance",
			"Precision Packager", "Buffer Manager", "Dispatch Coordinator",
		},
		Products: []Product{{"electronics", "Electronics", 501}, {"packaging", "Packaging", 502}},
	},
}

// Categories returns a copy of every category in display order.
func Categories() []Category {
	out := make([]Category, len(categories))
	for i, c := range categories {
		c.Roles = append([]string(nil), c.Roles...)
		c.Products = append([]Product(nil), c.Products...)
		out[i] = c
	}
	return out
}

// Lookup returns the category with the given ID (case-insensitive).
func Lookup(id string) (Category, error) {
	for _, c := range categories {
		if strings.EqualFold(c.ID, id) {
			return c, nil
		}
	}
	return Category{}, fmt.Errorf("%w: %q", ErrUnknownCategory, id)
}

// RoleIndex returns the 0-based stage position of role within the category.
func (c Category) RoleIndex(role string) (int, error) {
	for i, r := range c.Roles {
		if strings.EqualFold(r, role) {
			return i, nil
		}
	}
	return -1, fmt.Errorf("%w: %q in %s", ErrUnknownRole, role, c.ID)
}

// Product returns the product with the given code.
func (c Category) Product(code int) (Product, error) {
	for _, p := range c.Products {
		if p.Code == code {
			return p, nil
		}
	}
	return Product{}, fmt.Errorf("%w: %d in %s", ErrUnknownProduct, code, c.ID)
}

// DefaultProduct is the first product listed for the category.
func (c Category) DefaultProduct() Product {
	return c.Products[0]
}

// ChainID is the composite "<category code>-<product code>" identifier
// stamped on every stage of a batch.
func (c Category) ChainID(productCode int) string {
	return strconv.Itoa(c.Code) + "-" + strconv.Itoa(productCode)
}

// ProductMatches reports whether a product code carries the category's
// leading digit, e.g. 402 belongs to the 400 series.
func (c Category) ProductMatches(productCode int) bool {
	return productCode/100 == c.Code/100
}

// CategoryForProduct returns the category a product code belongs to.
func CategoryForProduct(code int) (Category, bool) {
	for _, c := range categories {
		if _, err := c.Product(code); err == nil {
			return c, true
		}
	}
	return Category{}, false
}
