// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package comms

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"escrowmarket.org/escrowd/escrow"
	"escrowmarket.org/escrowd/escrow/msgjson"
	"github.com/gorilla/websocket"
)

type tCore struct {
	listing    *escrow.Listing
	createErr  error
	buyErr     error
	cancelErr  error
	withErr    error
	listingErr error

	lastBuyListing escrow.ListingID
	lastBuyer      escrow.AccountID
}

func (c *tCore) CreateListing(seller, sellerAcct escrow.AccountID, asset escrow.AssetID,
	price, quantity uint64, expiry int64, nonce uint64) (*escrow.Listing, error) {
	if c.createErr != nil {
		return nil, c.createErr
	}
	return c.listing, nil
}

func (c *tCore) Buy(lid escrow.ListingID, buyer, paymentAcct, receiveAcct, sellerReceiveAcct escrow.AccountID) error {
	c.lastBuyListing = lid
	c.lastBuyer = buyer
	return c.buyErr
}

func (c *tCore) Cancel(lid escrow.ListingID, caller, sellerAcct escrow.AccountID) error {
	return c.cancelErr
}

func (c *tCore) WithdrawFee(caller, destAcct escrow.AccountID, amount uint64) error {
	return c.withErr
}

func (c *tCore) Listing(lid escrow.ListingID) (escrow.Listing, error) {
	if c.listingErr != nil {
		return escrow.Listing{}, c.listingErr
	}
	return *c.listing, nil
}

func (c *tCore) OpenListings() []escrow.Listing {
	return []escrow.Listing{*c.listing}
}

func tListing() *escrow.Listing {
	return &escrow.Listing{
		Seller:   escrow.AccountID{0x01},
		Asset:    escrow.AssetID{0x02},
		Price:    1000,
		Quantity: 1,
		Expiry:   time.Now().Add(time.Hour).Unix(),
		Status:   escrow.StatusOpen,
		Nonce:    7,
	}
}

func tServer(t *testing.T, core *tCore) (*Server, *httptest.Server) {
	t.Helper()
	s := NewServer(&Config{Core: core})
	ts := httptest.NewServer(s.handler())
	t.Cleanup(ts.Close)
	return s, ts
}

func postJSON(t *testing.T, url string, req any) *msgjson.ResponsePayload {
	t.Helper()
	b, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal error: %v", err)
	}
	httpResp, err := http.Post(url, "application/json", bytes.NewReader(b))
	if err != nil {
		t.Fatalf("POST error: %v", err)
	}
	defer httpResp.Body.Close()
	resp := new(msgjson.ResponsePayload)
	if err = json.NewDecoder(httpResp.Body).Decode(resp); err != nil {
		t.Fatalf("response decode error: %v", err)
	}
	return resp
}

func TestCreateListingRoute(t *testing.T) {
	core := &tCore{listing: tListing()}
	_, ts := tServer(t, core)

	acct := escrow.AccountID{0x01}
	asset := escrow.AssetID{0x02}
	req := &CreateListingRequest{
		Seller:     acct[:],
		SellerAcct: acct[:],
		Asset:      asset[:],
		Price:      1000,
		Quantity:   1,
		Expiry:     time.Now().Add(time.Hour).Unix(),
		Nonce:      7,
	}

	resp := postJSON(t, ts.URL+"/api/listing", req)
	if resp.Error != nil {
		t.Fatalf("unexpected error response: %v", resp.Error)
	}
	var result ListingResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		t.Fatalf("result decode error: %v", err)
	}
	if result.Price != 1000 || result.Status != escrow.StatusOpen.String() {
		t.Fatalf("wrong listing result: %+v", result)
	}
	wantID := core.listing.ID()
	if !bytes.Equal(result.Listing, wantID[:]) {
		t.Fatalf("wrong listing ID in result")
	}

	// Error from the core maps to a coded error response.
	core.createErr = escrow.ErrInvalidPrice
	resp = postJSON(t, ts.URL+"/api/listing", req)
	if resp.Error == nil {
		t.Fatalf("no error response for rejected create")
	}
	if resp.Error.Code != msgjson.InvalidPriceError {
		t.Fatalf("wrong error code %d", resp.Error.Code)
	}

	// Truncated IDs are rejected before the core sees the request.
	req.Seller = acct[:12]
	resp = postJSON(t, ts.URL+"/api/listing", req)
	if resp.Error == nil || resp.Error.Code != msgjson.RPCArgumentsError {
		t.Fatalf("short seller ID not rejected: %v", resp.Error)
	}
}

func TestBuyRoute(t *testing.T) {
	core := &tCore{listing: tListing()}
	_, ts := tServer(t, core)

	lid := core.listing.ID()
	buyer := escrow.AccountID{0x0b}
	req := &BuyRequest{
		Buyer:             buyer[:],
		PaymentAcct:       buyer[:],
		ReceiveAcct:       buyer[:],
		SellerReceiveAcct: buyer[:],
	}

	resp := postJSON(t, ts.URL+"/api/buy/"+lid.String(), req)
	if resp.Error != nil {
		t.Fatalf("unexpected error response: %v", resp.Error)
	}
	if core.lastBuyListing != lid || core.lastBuyer != buyer {
		t.Fatalf("core saw wrong buy arguments")
	}

	// Settled listing.
	core.buyErr = escrow.ErrInvalidState
	resp = postJSON(t, ts.URL+"/api/buy/"+lid.String(), req)
	if resp.Error == nil || resp.Error.Code != msgjson.InvalidStateError {
		t.Fatalf("wrong settled-listing response: %v", resp.Error)
	}

	// Malformed listing ID in the URL.
	resp = postJSON(t, ts.URL+"/api/buy/zzzz", req)
	if resp.Error == nil || resp.Error.Code != msgjson.RPCArgumentsError {
		t.Fatalf("bad listing ID not rejected: %v", resp.Error)
	}
}

func TestListingRoutes(t *testing.T) {
	core := &tCore{listing: tListing()}
	_, ts := tServer(t, core)

	lid := core.listing.ID()
	httpResp, err := http.Get(ts.URL + "/api/listing/" + lid.String())
	if err != nil {
		t.Fatalf("GET error: %v", err)
	}
	resp := new(msgjson.ResponsePayload)
	err = json.NewDecoder(httpResp.Body).Decode(resp)
	httpResp.Body.Close()
	if err != nil {
		t.Fatalf("response decode error: %v", err)
	}
	if resp.Error != nil {
		t.Fatalf("unexpected error response: %v", resp.Error)
	}

	core.listingErr = escrow.ErrListingNotFound
	httpResp, err = http.Get(ts.URL + "/api/listing/" + lid.String())
	if err != nil {
		t.Fatalf("GET error: %v", err)
	}
	resp = new(msgjson.ResponsePayload)
	err = json.NewDecoder(httpResp.Body).Decode(resp)
	httpResp.Body.Close()
	if err != nil {
		t.Fatalf("response decode error: %v", err)
	}
	if resp.Error == nil || resp.Error.Code != msgjson.UnknownListingError {
		t.Fatalf("unknown listing not reported: %v", resp.Error)
	}

	httpResp, err = http.Get(ts.URL + "/api/listings")
	if err != nil {
		t.Fatalf("GET error: %v", err)
	}
	var listResp struct {
		Result []*ListingResult `json:"result"`
	}
	err = json.NewDecoder(httpResp.Body).Decode(&listResp)
	httpResp.Body.Close()
	if err != nil {
		t.Fatalf("response decode error: %v", err)
	}
	if len(listResp.Result) != 1 {
		t.Fatalf("expected 1 open listing, got %d", len(listResp.Result))
	}
}

func TestFeedBroadcast(t *testing.T) {
	core := &tCore{listing: tListing()}
	s, ts := tServer(t, core)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("ws dial error: %v", err)
	}
	defer conn.Close()

	// The subscriber registers before the upgrade handler returns, but give
	// the handler goroutine a moment to be safe.
	for i := 0; s.clientCount() == 0 && i < 100; i++ {
		time.Sleep(5 * time.Millisecond)
	}
	if s.clientCount() != 1 {
		t.Fatalf("feed client not registered")
	}

	lid := core.listing.ID()
	note, err := msgjson.NewNotification(msgjson.PurchasedRoute, &msgjson.PurchasedNote{
		Listing: lid[:],
		Buyer:   []byte{0x0b},
		Price:   1000,
	})
	if err != nil {
		t.Fatalf("NewNotification error: %v", err)
	}
	s.Broadcast(note)

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, b, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("feed read error: %v", err)
	}
	msg, err := msgjson.DecodeMessage(b)
	if err != nil {
		t.Fatalf("feed message decode error: %v", err)
	}
	if msg.Route != msgjson.PurchasedRoute {
		t.Fatalf("wrong route %q", msg.Route)
	}
	var recvNote msgjson.PurchasedNote
	if err = msg.Unmarshal(&recvNote); err != nil {
		t.Fatalf("note decode error: %v", err)
	}
	if recvNote.Price != 1000 || !bytes.Equal(recvNote.Listing, lid[:]) {
		t.Fatalf("wrong note payload: %+v", recvNote)
	}

	// A disconnected client is dropped from the broadcast set.
	conn.Close()
	for i := 0; s.clientCount() != 0 && i < 200; i++ {
		time.Sleep(5 * time.Millisecond)
	}
	if n := s.clientCount(); n != 0 {
		t.Fatalf("%d feed clients still registered after disconnect", n)
	}
}

func TestSendBufferLimits(t *testing.T) {
	// A link whose send loop never runs accumulates queued messages until
	// the buffer fills.
	cl := newFeedLink(1, "test", nil)
	note, err := msgjson.NewNotification(msgjson.CanceledRoute, &msgjson.CanceledNote{})
	if err != nil {
		t.Fatalf("NewNotification error: %v", err)
	}
	for i := 0; i < outBufferSize; i++ {
		if err = cl.Send(note); err != nil {
			t.Fatalf("send %d failed: %v", i, err)
		}
	}
	if err = cl.Send(note); !errors.Is(err, errOutputBufferFull) {
		t.Fatalf("expected full-buffer error, got %v", err)
	}
}
