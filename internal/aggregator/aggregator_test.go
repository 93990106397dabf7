package aggregator

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/guarzo/cardshop/internal/model"
	"github.com/guarzo/cardshop/internal/ruten"
	"github.com/guarzo/cardshop/internal/shipping"
	"github.com/guarzo/cardshop/internal/testutil"
)

var (
	blueEyes = model.Card{ID: "12345", Name: "X", Number: "001", Rarities: []string{"UR", "SR"}}
	magician = model.Card{ID: "67890", Name: "Y", Number: "002", Rarities: []string{"SR"}}
)

func newTestAggregator(catalog Catalog, cards CardFinder, opts ...Option) *Aggregator {
	opts = append([]Option{WithProbeInterval(time.Millisecond)}, opts...)
	return New(catalog, cards, opts...)
}

func listingWithFees(id, title string, price float64, shopID string) model.ProdDetail {
	l := testutil.Listing(id, title, price, shopID)
	l.ShippingMethods = map[string]float64{"SEVEN": 60, "FAMILY": 55, "POST": 80}
	return l
}

func TestAggregate_Scenario(t *testing.T) {
	catalog := testutil.NewFakeCatalog()
	catalog.AddListing(
		listingWithFees("L1", "001 UR 青眼白龍", 100, "s1"),
		listingWithFees("L2", "001 UR SR 雙卡組", 120, "s2"),
	)
	catalog.SetSeller("s1", "seller-1")
	catalog.SetShipping("s1", map[string]float64{"SEVEN_free": 499, "POST_free": 1000})

	a := newTestAggregator(catalog, &testutil.FakeCards{Cards: []model.Card{blueEyes}})
	res, err := a.Aggregate(context.Background(), []model.ProductRequest{{ProductName: "12345+UR", Count: 5}})
	if err != nil {
		t.Fatalf("Aggregate failed: %v", err)
	}

	if len(res.Errors) != 0 {
		t.Errorf("expected no errors, got %v", res.Err())
	}
	if len(res.Requests) != 1 || res.Requests[0].Count != 3 {
		t.Fatalf("expected count clamped to 3, got %+v", res.Requests)
	}
	req := res.Requests[0]
	if req.CardName != "X" || req.CardNumber != "001" || !reflect.DeepEqual(req.Rarities, []string{"UR", "SR"}) {
		t.Errorf("unexpected resolved request: %+v", req)
	}

	if len(res.Shops) != 1 {
		t.Fatalf("expected 1 shop, got %d: %+v", len(res.Shops), res.Shops)
	}
	shop := res.Shops[0]
	if shop.ID != "s1" || shop.SellerID != "seller-1" {
		t.Errorf("unexpected shop: %+v", shop)
	}
	if p, ok := shop.Products["12345+UR"]; !ok || p.ID != "L1" || p.Price != 100 {
		t.Errorf("unexpected products: %+v", shop.Products)
	}
	wantFees := map[string]float64{"SEVEN": 60, "FAMI": 55}
	if !reflect.DeepEqual(shop.ShipPrices, wantFees) {
		t.Errorf("ShipPrices = %v, want %v", shop.ShipPrices, wantFees)
	}
	if !reflect.DeepEqual(shop.FreeShip, map[string]float64{"SEVEN": 499}) {
		t.Errorf("FreeShip = %v", shop.FreeShip)
	}
	if res.RunID == "" {
		t.Error("expected a run id")
	}
}

func TestAggregate_ShippingFailureFallsBack(t *testing.T) {
	catalog := testutil.NewFakeCatalog()
	l := testutil.Listing("L1", "001 UR", 100, "s1")
	l.ShippingMethods = map[string]float64{"FAMILY": 55, "HILIFE": 50}
	catalog.AddListing(l)
	catalog.SetSeller("s1", "seller-1")
	boom := errors.New("shipping endpoint down")
	catalog.Fail("shipping", "s1", boom)

	a := newTestAggregator(catalog, &testutil.FakeCards{Cards: []model.Card{blueEyes}})
	res, err := a.Aggregate(context.Background(), []model.ProductRequest{{ProductName: "12345+UR", Count: 1}})
	if err != nil {
		t.Fatalf("Aggregate failed: %v", err)
	}

	if len(res.Shops) != 1 {
		t.Fatalf("expected the shop to survive, got %d shops", len(res.Shops))
	}
	want := map[string]float64{shipping.Fami: shipping.NoFreeShipThreshold}
	if !reflect.DeepEqual(res.Shops[0].FreeShip, want) {
		t.Errorf("FreeShip = %v, want %v", res.Shops[0].FreeShip, want)
	}

	errs := res.ErrorsFor(model.StageShipping)
	if len(errs) != 1 || errs[0].Subject != "s1" || !errors.Is(errs[0], boom) {
		t.Errorf("unexpected shipping errors: %v", errs)
	}
}

func TestAggregate_NoRecognizedConditionsFallsBack(t *testing.T) {
	catalog := testutil.NewFakeCatalog()
	catalog.AddListing(testutil.Listing("L1", "001 UR", 100, "s1"))
	catalog.SetSeller("s1", "seller-1")
	catalog.SetShipping("s1", map[string]float64{"POST_free": 300})

	a := newTestAggregator(catalog, &testutil.FakeCards{Cards: []model.Card{blueEyes}})
	res, _ := a.Aggregate(context.Background(), []model.ProductRequest{{ProductName: "12345+UR", Count: 1}})

	// No fees declared, so the fallback uses SEVEN.
	want := map[string]float64{shipping.Seven: shipping.NoFreeShipThreshold}
	if !reflect.DeepEqual(res.Shops[0].FreeShip, want) {
		t.Errorf("FreeShip = %v, want %v", res.Shops[0].FreeShip, want)
	}
	if len(res.Errors) != 0 {
		t.Errorf("expected no errors, got %v", res.Err())
	}
}

func TestAggregate_PartialFailure(t *testing.T) {
	catalog := testutil.NewFakeCatalog()
	catalog.AddListing(
		testutil.Listing("L1", "001 UR", 100, "s1"),
		testutil.Listing("L2", "002 SR", 80, "s2"),
	)
	catalog.SetSeller("s2", "seller-2")
	boom := errors.New("search timed out")
	catalog.Fail("search", "001 UR", boom)

	a := newTestAggregator(catalog, &testutil.FakeCards{Cards: []model.Card{blueEyes, magician}})
	res, err := a.Aggregate(context.Background(), []model.ProductRequest{
		{ProductName: "12345+UR", Count: 1},
		{ProductName: "67890+SR", Count: 2},
	})
	if err != nil {
		t.Fatalf("Aggregate failed: %v", err)
	}

	if len(res.Shops) != 1 || res.Shops[0].ID != "s2" {
		t.Fatalf("expected shop s2 only, got %+v", res.Shops)
	}
	errs := res.ErrorsFor(model.StageDiscover)
	if len(errs) != 1 || errs[0].Subject != "12345+UR" || !errors.Is(errs[0], boom) {
		t.Errorf("unexpected discover errors: %v", errs)
	}
}

func TestAggregate_ResolveFailuresAreContained(t *testing.T) {
	catalog := testutil.NewFakeCatalog()
	catalog.AddListing(testutil.Listing("L1", "001 UR", 100, "s1"))
	catalog.SetSeller("s1", "seller-1")

	a := newTestAggregator(catalog, &testutil.FakeCards{Cards: []model.Card{blueEyes}})
	res, err := a.Aggregate(context.Background(), []model.ProductRequest{
		{ProductName: "99999+UR", Count: 1},
		{ProductName: "no-rarity", Count: 1},
		{ProductName: "12345+ur", Count: 0},
	})
	if err != nil {
		t.Fatalf("Aggregate failed: %v", err)
	}

	errs := res.ErrorsFor(model.StageResolve)
	if len(errs) != 2 {
		t.Fatalf("expected 2 resolve errors, got %v", errs)
	}
	if errs[0].Subject != "99999+UR" || !errors.Is(errs[0], testutil.ErrNotFound) {
		t.Errorf("unexpected first error: %v", errs[0])
	}
	if errs[1].Subject != "no-rarity" {
		t.Errorf("unexpected second error: %v", errs[1])
	}

	if len(res.Requests) != 1 {
		t.Fatalf("expected 1 resolved request, got %d", len(res.Requests))
	}
	// Stored spelling wins and counts below one become one.
	if res.Requests[0].Rarity != "UR" || res.Requests[0].Count != 1 {
		t.Errorf("unexpected request: %+v", res.Requests[0])
	}
	if len(res.Shops) != 1 {
		t.Errorf("expected the resolved item to find its shop, got %d", len(res.Shops))
	}
}

func TestAggregate_StrictResolveAborts(t *testing.T) {
	catalog := testutil.NewFakeCatalog()
	a := newTestAggregator(catalog, &testutil.FakeCards{Cards: []model.Card{blueEyes}}, WithStrictResolve(true))

	res, err := a.Aggregate(context.Background(), []model.ProductRequest{
		{ProductName: "12345+UR", Count: 1},
		{ProductName: "99999+UR", Count: 1},
	})
	if res != nil {
		t.Errorf("expected no result, got %+v", res)
	}
	var re *model.RunError
	if !errors.As(err, &re) || re.Stage != model.StageResolve || re.Subject != "99999+UR" {
		t.Errorf("expected resolve RunError, got %v", err)
	}
	if len(catalog.Calls()) != 0 {
		t.Errorf("expected no marketplace calls, got %v", catalog.Calls())
	}
}

func TestAggregate_ProbeAddsOtherItems(t *testing.T) {
	catalog := testutil.NewFakeCatalog()
	catalog.AddListing(
		testutil.Listing("L1", "001 UR", 100, "s1"),
		testutil.Listing("L5", "002 SR", 90, "s1"),
	)
	catalog.SetSeller("s1", "seller-1")
	// The global search misses the second card; only the shop probe finds it.
	catalog.Fail("search", "002 SR", errors.New("search unavailable"))

	a := newTestAggregator(catalog, &testutil.FakeCards{Cards: []model.Card{blueEyes, magician}})
	res, err := a.Aggregate(context.Background(), []model.ProductRequest{
		{ProductName: "12345+UR", Count: 1},
		{ProductName: "67890+SR", Count: 1},
	})
	if err != nil {
		t.Fatalf("Aggregate failed: %v", err)
	}

	if len(res.Shops) != 1 {
		t.Fatalf("expected 1 shop, got %d", len(res.Shops))
	}
	p, ok := res.Shops[0].Products["67890+SR"]
	if !ok || p.ID != "L5" || p.Price != 90 {
		t.Errorf("expected probe addition, got %+v", res.Shops[0].Products)
	}
	if len(res.ErrorsFor(model.StageProbe)) != 0 {
		t.Errorf("unexpected probe errors: %v", res.ErrorsFor(model.StageProbe))
	}
}

func TestAggregate_ProbeWithoutSellerIDKeepsShop(t *testing.T) {
	catalog := testutil.NewFakeCatalog()
	catalog.AddListing(testutil.Listing("L1", "001 UR", 100, "s1"))

	a := newTestAggregator(catalog, &testutil.FakeCards{Cards: []model.Card{blueEyes, magician}})
	res, err := a.Aggregate(context.Background(), []model.ProductRequest{
		{ProductName: "12345+UR", Count: 1},
		{ProductName: "67890+SR", Count: 1},
	})
	if err != nil {
		t.Fatalf("Aggregate failed: %v", err)
	}

	if len(res.Shops) != 1 || !res.Shops[0].Has("12345+UR") {
		t.Fatalf("expected shop s1 to remain, got %+v", res.Shops)
	}
	errs := res.ErrorsFor(model.StageProbe)
	if len(errs) != 1 || !errors.Is(errs[0], ErrNoSellerID) {
		t.Errorf("expected ErrNoSellerID, got %v", errs)
	}
	if len(res.Shops[0].FreeShip) != 1 {
		t.Errorf("shipping stage should still run, FreeShip = %v", res.Shops[0].FreeShip)
	}
}

func TestAggregate_ProbeIsRateLimited(t *testing.T) {
	catalog := testutil.NewFakeCatalog()
	for _, id := range []string{"s1", "s2", "s3"} {
		catalog.AddListing(testutil.Listing("L-"+id, "001 UR", 100, id))
	}
	// Every probe fails; the interval still applies.
	interval := 40 * time.Millisecond
	a := New(catalog, &testutil.FakeCards{Cards: []model.Card{blueEyes}}, WithProbeInterval(interval))

	res, err := a.Aggregate(context.Background(), []model.ProductRequest{{ProductName: "12345+UR", Count: 1}})
	if err != nil {
		t.Fatalf("Aggregate failed: %v", err)
	}
	if len(res.ErrorsFor(model.StageProbe)) != 3 {
		t.Errorf("expected 3 probe errors, got %v", res.ErrorsFor(model.StageProbe))
	}

	times := catalog.CallTimes("shop-info")
	if len(times) != 3 {
		t.Fatalf("expected 3 shop-info calls, got %d", len(times))
	}
	for i := 1; i < len(times); i++ {
		if gap := times[i].Sub(times[i-1]); gap < interval-10*time.Millisecond {
			t.Errorf("probe %d started %v after the previous one, want >= ~%v", i, gap, interval)
		}
	}
}

func TestAggregate_KeepsCheapestListingPerShop(t *testing.T) {
	catalog := testutil.NewFakeCatalog()
	catalog.AddListing(
		testutil.Listing("L-dear", "001 UR mint", 300, "s1"),
		testutil.Listing("L-cheap", "001 UR played", 120, "s1"),
	)
	catalog.SetSeller("s1", "seller-1")

	a := newTestAggregator(catalog, &testutil.FakeCards{Cards: []model.Card{blueEyes}})
	res, _ := a.Aggregate(context.Background(), []model.ProductRequest{{ProductName: "12345+UR", Count: 1}})

	if got := res.Shops[0].Products["12345+UR"].ID; got != "L-cheap" {
		t.Errorf("expected cheapest listing, got %s", got)
	}
}

func TestAggregate_Idempotent(t *testing.T) {
	factory := testutil.NewTestDataFactory(42)
	catalog := testutil.NewFakeCatalog()
	for i, shop := range []string{"s1", "s2", "s3"} {
		catalog.AddListing(factory.GenerateListing(blueEyes, "UR", shop))
		catalog.SetSeller(shop, "seller-"+shop)
		catalog.SetShipping(shop, map[string]float64{"SEVEN_free": float64(300 + i*100)})
	}
	catalog.AddListing(factory.GenerateListing(magician, "SR", "s2"))

	a := newTestAggregator(catalog, &testutil.FakeCards{Cards: []model.Card{blueEyes, magician}})
	requests := []model.ProductRequest{
		{ProductName: "12345+UR", Count: 2},
		{ProductName: "67890+SR", Count: 9},
	}

	first, err := a.Aggregate(context.Background(), requests)
	if err != nil {
		t.Fatal(err)
	}
	second, err := a.Aggregate(context.Background(), requests)
	if err != nil {
		t.Fatal(err)
	}

	if !reflect.DeepEqual(first.Shops, second.Shops) {
		t.Errorf("shops differ between runs:\n%+v\n%+v", first.Shops, second.Shops)
	}
	if first.RunID == second.RunID {
		t.Error("run ids should differ")
	}
	if second.Requests[1].Count != model.MaxPerItem {
		t.Errorf("expected clamped count, got %d", second.Requests[1].Count)
	}
}

func TestAggregate_ErrorsInStageOrder(t *testing.T) {
	catalog := testutil.NewFakeCatalog()
	catalog.AddListing(testutil.Listing("L1", "001 UR", 100, "s1"))
	catalog.Fail("shipping", "s1", errors.New("down"))

	a := newTestAggregator(catalog, &testutil.FakeCards{Cards: []model.Card{blueEyes}})
	res, _ := a.Aggregate(context.Background(), []model.ProductRequest{
		{ProductName: "12345+UR", Count: 1},
		{ProductName: "00000+N", Count: 1},
	})

	var stages []model.Stage
	for _, e := range res.Errors {
		stages = append(stages, e.Stage)
	}
	want := []model.Stage{model.StageResolve, model.StageProbe, model.StageShipping}
	if !reflect.DeepEqual(stages, want) {
		t.Errorf("stages = %v, want %v", stages, want)
	}
}

func TestAggregate_ClockAndConfiguration(t *testing.T) {
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	a := newTestAggregator(testutil.NewFakeCatalog(), &testutil.FakeCards{}, WithClock(func() time.Time { return fixed }))

	res, err := a.Aggregate(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if !res.StartedAt.Equal(fixed) || !res.FinishedAt.Equal(fixed) {
		t.Errorf("unexpected timestamps %v %v", res.StartedAt, res.FinishedAt)
	}
	if len(res.Shops) != 0 || len(res.Errors) != 0 {
		t.Errorf("expected empty result, got %+v", res)
	}

	if _, err := New(nil, nil).Aggregate(context.Background(), nil); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("expected ErrNotConfigured, got %v", err)
	}
}

func TestAggregate_CancelledBeforeResolve(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	a := newTestAggregator(testutil.NewFakeCatalog(), &testutil.FakeCards{Cards: []model.Card{blueEyes}})
	if _, err := a.Aggregate(ctx, []model.ProductRequest{{ProductName: "12345+UR", Count: 1}}); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestInOrder(t *testing.T) {
	details := []model.ProdDetail{{ID: "c"}, {ID: "x"}, {ID: "a"}, {ID: "b"}}
	got := inOrder(details, []string{"a", "b", "c"})
	var ids []string
	for _, d := range got {
		ids = append(ids, d.ID)
	}
	if !reflect.DeepEqual(ids, []string{"a", "b", "c", "x"}) {
		t.Errorf("inOrder = %v", ids)
	}
}

func shippingShop() *testutil.FakeCatalog {
	catalog := testutil.NewFakeCatalog()
	catalog.AddListing(testutil.Listing("L1", "001 UR", 100, "s1"))
	catalog.SetSeller("s1", "seller-1")
	catalog.SetShipping("s1", map[string]float64{"SEVEN_free": 499})
	return catalog
}

func TestAggregate_ShippingRetry(t *testing.T) {
	unavailable := &ruten.RemoteFetchError{Kind: ruten.KindShipping, Subject: "s1", Status: 503, Err: errors.New("unavailable")}
	notFound := &ruten.RemoteFetchError{Kind: ruten.KindShipping, Subject: "s1", Status: 404, Err: errors.New("gone")}

	tests := []struct {
		name      string
		err       error
		failures  int
		wantCalls int
		wantFree  map[string]float64
		wantErrs  int
	}{
		{"temporary failure recovers", unavailable, 2, 3, map[string]float64{"SEVEN": 499}, 0},
		{"temporary failure exhausts attempts", unavailable, 5, 3, map[string]float64{"SEVEN": shipping.NoFreeShipThreshold}, 1},
		{"permanent failure is not retried", notFound, 1, 1, map[string]float64{"SEVEN": shipping.NoFreeShipThreshold}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			catalog := shippingShop()
			catalog.FailTimes("shipping", "s1", tt.err, tt.failures)

			a := newTestAggregator(catalog, &testutil.FakeCards{Cards: []model.Card{blueEyes}},
				WithShippingRetry(3, time.Millisecond))
			res, err := a.Aggregate(context.Background(), []model.ProductRequest{{ProductName: "12345+UR", Count: 1}})
			if err != nil {
				t.Fatalf("Aggregate failed: %v", err)
			}

			if got := len(catalog.CallTimes("shipping")); got != tt.wantCalls {
				t.Errorf("shipping calls = %d, want %d", got, tt.wantCalls)
			}
			if len(res.Shops) != 1 || !reflect.DeepEqual(res.Shops[0].FreeShip, tt.wantFree) {
				t.Fatalf("unexpected shops: %+v", res.Shops)
			}
			if len(res.Errors) != tt.wantErrs {
				t.Fatalf("errors = %v, want %d", res.Err(), tt.wantErrs)
			}
			if tt.wantErrs > 0 {
				var rfe *ruten.RemoteFetchError
				if res.Errors[0].Stage != model.StageShipping || !errors.As(res.Errors[0], &rfe) || rfe.Status != tt.err.(*ruten.RemoteFetchError).Status {
					t.Errorf("unexpected error: %v", res.Errors[0])
				}
			}
		})
	}
}

func TestAggregate_ShippingTimeoutIsRecorded(t *testing.T) {
	catalog := shippingShop()
	catalog.Block("shipping", "s1")

	a := newTestAggregator(catalog, &testutil.FakeCards{Cards: []model.Card{blueEyes}},
		WithTaskTimeout(20*time.Millisecond), WithShippingRetry(1, 0))

	start := time.Now()
	res, err := a.Aggregate(context.Background(), []model.ProductRequest{{ProductName: "12345+UR", Count: 1}})
	if err != nil {
		t.Fatalf("Aggregate failed: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("run took %v, the hung call was not cut off", elapsed)
	}

	if len(res.Shops) != 1 || res.Shops[0].Products["12345+UR"].ID != "L1" {
		t.Fatalf("expected the shop to survive, got %+v", res.Shops)
	}
	if !shipping.IsFallback(res.Shops[0].FreeShip) {
		t.Errorf("expected fallback free shipping, got %v", res.Shops[0].FreeShip)
	}
	if len(res.Errors) != 1 || res.Errors[0].Stage != model.StageShipping {
		t.Fatalf("expected one shipping error, got %v", res.Err())
	}
	if !errors.Is(res.Errors[0], context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", res.Errors[0])
	}
}
