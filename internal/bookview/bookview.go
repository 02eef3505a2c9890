// Package bookview arranges valid listings into a read-only order book for
// clients. Listings of the same project, option and stake amount are
// interchangeable, so they form one cohort priced by its cheapest offer.
package bookview

import (
	"slices"

	"github.com/google/btree"
	"github.com/shopspring/decimal"

	"github.com/atmx/wager-engine/internal/model"
)

// Cohort is a group of interchangeable listings.
type Cohort struct {
	ProjectID uint64              `json:"project_id"`
	OptionID  int                 `json:"option_id"`
	Amount    decimal.Decimal     `json:"amount"`
	MinPrice  decimal.Decimal     `json:"min_price"`
	Count     int                 `json:"count"`
	Listings  []model.ListingView `json:"listings"` // cheapest first
}

// Book indexes listings by (project, option, amount, price, token).
type Book struct {
	tree *btree.BTreeG[model.ListingView]
}

func less(a, b model.ListingView) bool {
	if a.ProjectID != b.ProjectID {
		return a.ProjectID < b.ProjectID
	}
	if a.OptionID != b.OptionID {
		return a.OptionID < b.OptionID
	}
	if c := a.Amount.Cmp(b.Amount); c != 0 {
		return c < 0
	}
	if c := a.Price.Cmp(b.Price); c != 0 {
		return c < 0
	}
	return a.TokenID < b.TokenID
}

// New builds a book from valid listings.
func New(listings []model.ListingView) *Book {
	tree := btree.NewG(16, less)
	for _, l := range listings {
		tree.ReplaceOrInsert(l)
	}
	return &Book{tree: tree}
}

// Len returns the number of listings in the book.
func (b *Book) Len() int { return b.tree.Len() }

// Cohorts returns the project's cohorts ordered by minimum price. Cohorts at
// the same price keep option then amount order.
func (b *Book) Cohorts(projectID uint64) []Cohort {
	cohorts := []Cohort{}
	pivot := model.ListingView{ProjectID: projectID, OptionID: -1 << 31}
	b.tree.AscendGreaterOrEqual(pivot, func(l model.ListingView) bool {
		if l.ProjectID != projectID {
			return false
		}
		n := len(cohorts)
		if n > 0 && cohorts[n-1].OptionID == l.OptionID && cohorts[n-1].Amount.Equal(l.Amount) {
			cohorts[n-1].Listings = append(cohorts[n-1].Listings, l)
			cohorts[n-1].Count++
			return true
		}
		// Entries within a cohort ascend by price, so the first is cheapest.
		cohorts = append(cohorts, Cohort{
			ProjectID: l.ProjectID,
			OptionID:  l.OptionID,
			Amount:    l.Amount,
			MinPrice:  l.Price,
			Count:     1,
			Listings:  []model.ListingView{l},
		})
		return true
	})

	slices.SortStableFunc(cohorts, func(a, b Cohort) int {
		return a.MinPrice.Cmp(b.MinPrice)
	})
	return cohorts
}

// Cheapest returns the lowest-priced listing on an option, if any.
func (b *Book) Cheapest(projectID uint64, optionID int) (model.ListingView, bool) {
	var (
		best  model.ListingView
		found bool
	)
	pivot := model.ListingView{ProjectID: projectID, OptionID: optionID, Amount: decimal.NewFromInt(-1)}
	b.tree.AscendGreaterOrEqual(pivot, func(l model.ListingView) bool {
		if l.ProjectID != projectID || l.OptionID != optionID {
			return false
		}
		if !found || l.Price.LessThan(best.Price) {
			best, found = l, true
		}
		return true
	})
	return best, found
}
