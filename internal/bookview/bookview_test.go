package bookview_test

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/atmx/wager-engine/internal/bookview"
	"github.com/atmx/wager-engine/internal/model"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func view(token, project uint64, option int, amount, price string) model.ListingView {
	return model.ListingView{
		Listing:   model.Listing{TokenID: token, Price: d(price)},
		ProjectID: project,
		OptionID:  option,
		Amount:    d(amount),
	}
}

func TestCohorts_GroupAndOrderByMinPrice(t *testing.T) {
	book := bookview.New([]model.ListingView{
		view(0, 0, 0, "300", "360"),
		view(1, 0, 1, "300", "333"),
		view(2, 0, 0, "300", "350"),
		view(3, 0, 0, "100", "90"),
		view(4, 1, 0, "300", "1"), // other project
	})
	if book.Len() != 5 {
		t.Fatalf("len = %d", book.Len())
	}

	cohorts := book.Cohorts(0)
	if len(cohorts) != 3 {
		t.Fatalf("cohorts = %+v", cohorts)
	}

	want := []struct {
		option int
		amount string
		min    string
		count  int
	}{
		{0, "100", "90", 1},
		{1, "300", "333", 1},
		{0, "300", "350", 2},
	}
	for i, w := range want {
		c := cohorts[i]
		if c.OptionID != w.option || !c.Amount.Equal(d(w.amount)) || !c.MinPrice.Equal(d(w.min)) || c.Count != w.count {
			t.Errorf("cohort %d = %+v, want %+v", i, c, w)
		}
	}
	if got := cohorts[2].Listings; got[0].TokenID != 2 || got[1].TokenID != 0 {
		t.Errorf("cohort listings not cheapest first: %+v", got)
	}
}

func TestCohorts_EmptyProject(t *testing.T) {
	book := bookview.New(nil)
	if c := book.Cohorts(3); len(c) != 0 {
		t.Errorf("cohorts = %+v", c)
	}
}

func TestCheapest(t *testing.T) {
	book := bookview.New([]model.ListingView{
		view(0, 0, 0, "300", "360"),
		view(1, 0, 0, "100", "400"),
		view(2, 0, 0, "500", "120"),
		view(3, 0, 1, "300", "5"),
	})

	best, ok := book.Cheapest(0, 0)
	if !ok || best.TokenID != 2 {
		t.Errorf("cheapest = %+v, %v", best, ok)
	}
	if _, ok := book.Cheapest(0, 2); ok {
		t.Error("expected no listing on option 2")
	}
}
