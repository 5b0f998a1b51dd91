// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

// Package comms is the network-facing surface of the settlement engine: a
// small JSON API exposing the four operations, and a websocket feed
// broadcasting post-commit event notifications. The transport trusts the
// caller-declared identities in each request; signature verification is the
// deployment's ingress concern, not modeled here.
package comms

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"escrowmarket.org/escrowd/escrow"
	"escrowmarket.org/escrowd/escrow/msgjson"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

const rpcTimeoutSeconds = 10

var (
	errClientDisconnected = errors.New("feed client disconnected")
	errOutputBufferFull   = errors.New("output buffer full")
)

// Core is the settlement engine interface required by the Server.
type Core interface {
	CreateListing(seller, sellerAcct escrow.AccountID, asset escrow.AssetID,
		price, quantity uint64, expiry int64, nonce uint64) (*escrow.Listing, error)
	Buy(lid escrow.ListingID, buyer, paymentAcct, receiveAcct, sellerReceiveAcct escrow.AccountID) error
	Cancel(lid escrow.ListingID, caller, sellerAcct escrow.AccountID) error
	WithdrawFee(caller, destAcct escrow.AccountID, amount uint64) error
	Listing(lid escrow.ListingID) (escrow.Listing, error)
	OpenListings() []escrow.Listing
}

// Config is the comms Server configuration.
type Config struct {
	Core Core
	// Addr is the TCP listen address.
	Addr string
}

// Server handles the HTTP API and the websocket event feed.
type Server struct {
	core Core
	addr string

	wg        sync.WaitGroup
	clientMtx sync.RWMutex
	clients   map[uint64]*feedLink
	nextID    uint64
}

// NewServer constructs a Server.
func NewServer(cfg *Config) *Server {
	return &Server{
		core:    cfg.Core,
		addr:    cfg.Addr,
		clients: make(map[uint64]*feedLink),
	}
}

// Notify implements the engine's post-commit Notifier by broadcasting the
// notification to all feed subscribers.
func (s *Server) Notify(msg *msgjson.Message) {
	s.Broadcast(msg)
}

// Broadcast sends a message to all connected feed clients. A failed send
// disconnects the client; it never affects the operation that produced the
// message.
func (s *Server) Broadcast(msg *msgjson.Message) {
	s.clientMtx.RLock()
	defer s.clientMtx.RUnlock()

	log.Tracef("Broadcasting %s to %d feed clients", msg.Route, len(s.clients))
	for id, cl := range s.clients {
		if err := cl.Send(msg); err != nil {
			log.Debugf("Send to feed client %d at %s failed: %v", id, cl.addr, err)
			cl.Disconnect() // triggers removal by the handler goroutine
		}
	}
}

func (s *Server) addClient(cl *feedLink) {
	s.clientMtx.Lock()
	s.clients[cl.id] = cl
	s.clientMtx.Unlock()
}

func (s *Server) removeClient(id uint64) {
	s.clientMtx.Lock()
	delete(s.clients, id)
	s.clientMtx.Unlock()
}

func (s *Server) clientCount() int {
	s.clientMtx.RLock()
	defer s.clientMtx.RUnlock()
	return len(s.clients)
}

// handler builds the HTTP mux with the event feed and operation endpoints.
func (s *Server) handler() http.Handler {
	mux := chi.NewRouter()
	mux.Use(middleware.RealIP)
	mux.Use(middleware.Recoverer)

	// Websocket event feed.
	mux.Get("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrade(w, r)
		if err != nil {
			log.Errorf("ws connection error: %v", err)
			return
		}
		s.clientMtx.Lock()
		s.nextID++
		cl := newFeedLink(s.nextID, r.RemoteAddr, conn)
		s.clients[cl.id] = cl
		s.clientMtx.Unlock()

		log.Tracef("New feed client %s", cl.addr)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.removeClient(cl.id)
			go cl.sendLoop()
			cl.readLoop()
			log.Tracef("Disconnected feed client %s", cl.addr)
		}()
	})

	// Operation and query endpoints.
	mux.Route("/api", func(rr chi.Router) {
		rr.Post("/listing", s.handleCreateListing)
		rr.Post("/buy/{listing}", s.handleBuy)
		rr.Post("/cancel/{listing}", s.handleCancel)
		rr.Post("/withdrawfee", s.handleWithdrawFee)
		rr.Get("/listing/{listing}", s.handleListingStatus)
		rr.Get("/listings", s.handleOpenListings)
	})

	return mux
}

// Run starts the server and blocks until ctx is canceled and shutdown
// completes.
func (s *Server) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Handler:      s.handler(),
		ReadTimeout:  rpcTimeoutSeconds * time.Second,
		WriteTimeout: rpcTimeoutSeconds * time.Second,
	}

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		log.Infof("API server listening on %s", listener.Addr())
		err := httpServer.Serve(listener)
		if !errors.Is(err, http.ErrServerClosed) {
			log.Warnf("unexpected (http.Server).Serve error: %v", err)
		}
	}()

	<-ctx.Done()

	log.Infof("API server shutting down...")
	ctxTimeout, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctxTimeout); err != nil {
		log.Warnf("http.Server.Shutdown: %v", err)
	}

	// Disconnect feed clients so their handler goroutines return.
	s.clientMtx.Lock()
	for _, cl := range s.clients {
		cl.Disconnect()
	}
	s.clientMtx.Unlock()

	s.wg.Wait()
	log.Infof("API server shutdown complete")
	return nil
}

func writeJSON(w http.ResponseWriter, resp *msgjson.ResponsePayload) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	if resp.Error != nil {
		w.WriteHeader(http.StatusBadRequest)
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.Errorf("JSON encode error: %v", err)
	}
}

func writeResult(w http.ResponseWriter, result any) {
	enc, err := json.Marshal(result)
	if err != nil {
		log.Errorf("error marshaling result: %v", err)
		writeError(w, msgjson.NewError(msgjson.RPCInternal, "internal error"))
		return
	}
	writeJSON(w, &msgjson.ResponsePayload{Result: enc})
}

func writeError(w http.ResponseWriter, rpcErr *msgjson.Error) {
	writeJSON(w, &msgjson.ResponsePayload{Error: rpcErr})
}

// writeOpError maps the settlement error taxonomy onto msgjson error codes.
func writeOpError(w http.ResponseWriter, err error) {
	writeError(w, msgjson.NewError(msgjson.ErrorCode(err), "%v", err))
}

func decodeRequest(w http.ResponseWriter, r *http.Request, req any) bool {
	if err := json.NewDecoder(r.Body).Decode(req); err != nil {
		writeError(w, msgjson.NewError(msgjson.RPCParseError, "error parsing request: %v", err))
		return false
	}
	return true
}

// urlListingID parses the {listing} URL parameter.
func urlListingID(w http.ResponseWriter, r *http.Request) (escrow.ListingID, bool) {
	lid, err := escrow.ListingIDFromHex(chi.URLParam(r, "listing"))
	if err != nil {
		writeError(w, msgjson.NewError(msgjson.RPCArgumentsError, "invalid listing ID: %v", err))
		return lid, false
	}
	return lid, true
}

// CreateListingRequest is the request body for POST /api/listing.
type CreateListingRequest struct {
	Seller     msgjson.Bytes `json:"seller"`
	SellerAcct msgjson.Bytes `json:"sellerAcct"`
	Asset      msgjson.Bytes `json:"asset"`
	Price      uint64        `json:"price"`
	Quantity   uint64        `json:"quantity"`
	Expiry     int64         `json:"expiry"`
	Nonce      uint64        `json:"nonce"`
}

// BuyRequest is the request body for POST /api/buy/{listing}.
type BuyRequest struct {
	Buyer             msgjson.Bytes `json:"buyer"`
	PaymentAcct       msgjson.Bytes `json:"paymentAcct"`
	ReceiveAcct       msgjson.Bytes `json:"receiveAcct"`
	SellerReceiveAcct msgjson.Bytes `json:"sellerReceiveAcct"`
}

// CancelRequest is the request body for POST /api/cancel/{listing}.
type CancelRequest struct {
	Caller     msgjson.Bytes `json:"caller"`
	SellerAcct msgjson.Bytes `json:"sellerAcct"`
}

// WithdrawFeeRequest is the request body for POST /api/withdrawfee.
type WithdrawFeeRequest struct {
	Admin    msgjson.Bytes `json:"admin"`
	DestAcct msgjson.Bytes `json:"destAcct"`
	Amount   uint64        `json:"amount"`
}

// ListingResult describes a listing in API responses.
type ListingResult struct {
	Listing  msgjson.Bytes `json:"listing"`
	Seller   msgjson.Bytes `json:"seller"`
	Asset    msgjson.Bytes `json:"asset"`
	Price    uint64        `json:"price"`
	Quantity uint64        `json:"quantity"`
	Expiry   int64         `json:"expiry"`
	Status   string        `json:"status"`
	Nonce    uint64        `json:"nonce"`
}

func listingResult(l *escrow.Listing) *ListingResult {
	lid := l.ID()
	return &ListingResult{
		Listing:  lid[:],
		Seller:   l.Seller[:],
		Asset:    l.Asset[:],
		Price:    l.Price,
		Quantity: l.Quantity,
		Expiry:   l.Expiry,
		Status:   l.Status.String(),
		Nonce:    l.Nonce,
	}
}

func (s *Server) handleCreateListing(w http.ResponseWriter, r *http.Request) {
	var req CreateListingRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	seller, err := escrow.DecodeAccountID(req.Seller)
	if err != nil {
		writeError(w, msgjson.NewError(msgjson.RPCArgumentsError, "invalid seller: %v", err))
		return
	}
	sellerAcct, err := escrow.DecodeAccountID(req.SellerAcct)
	if err != nil {
		writeError(w, msgjson.NewError(msgjson.RPCArgumentsError, "invalid seller account: %v", err))
		return
	}
	asset, err := escrow.DecodeAssetID(req.Asset)
	if err != nil {
		writeError(w, msgjson.NewError(msgjson.RPCArgumentsError, "invalid asset: %v", err))
		return
	}
	listing, err := s.core.CreateListing(seller, sellerAcct, asset,
		req.Price, req.Quantity, req.Expiry, req.Nonce)
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeResult(w, listingResult(listing))
}

func (s *Server) handleBuy(w http.ResponseWriter, r *http.Request) {
	lid, ok := urlListingID(w, r)
	if !ok {
		return
	}
	var req BuyRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	ids := make([]escrow.AccountID, 4)
	for i, raw := range [][]byte{req.Buyer, req.PaymentAcct, req.ReceiveAcct, req.SellerReceiveAcct} {
		var err error
		if ids[i], err = escrow.DecodeAccountID(raw); err != nil {
			writeError(w, msgjson.NewError(msgjson.RPCArgumentsError, "invalid account ID: %v", err))
			return
		}
	}
	if err := s.core.Buy(lid, ids[0], ids[1], ids[2], ids[3]); err != nil {
		writeOpError(w, err)
		return
	}
	writeResult(w, true)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	lid, ok := urlListingID(w, r)
	if !ok {
		return
	}
	var req CancelRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	caller, err := escrow.DecodeAccountID(req.Caller)
	if err != nil {
		writeError(w, msgjson.NewError(msgjson.RPCArgumentsError, "invalid caller: %v", err))
		return
	}
	sellerAcct, err := escrow.DecodeAccountID(req.SellerAcct)
	if err != nil {
		writeError(w, msgjson.NewError(msgjson.RPCArgumentsError, "invalid seller account: %v", err))
		return
	}
	if err := s.core.Cancel(lid, caller, sellerAcct); err != nil {
		writeOpError(w, err)
		return
	}
	writeResult(w, true)
}

func (s *Server) handleWithdrawFee(w http.ResponseWriter, r *http.Request) {
	var req WithdrawFeeRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	admin, err := escrow.DecodeAccountID(req.Admin)
	if err != nil {
		writeError(w, msgjson.NewError(msgjson.RPCArgumentsError, "invalid admin: %v", err))
		return
	}
	destAcct, err := escrow.DecodeAccountID(req.DestAcct)
	if err != nil {
		writeError(w, msgjson.NewError(msgjson.RPCArgumentsError, "invalid destination account: %v", err))
		return
	}
	if err := s.core.WithdrawFee(admin, destAcct, req.Amount); err != nil {
		writeOpError(w, err)
		return
	}
	writeResult(w, true)
}

func (s *Server) handleListingStatus(w http.ResponseWriter, r *http.Request) {
	lid, ok := urlListingID(w, r)
	if !ok {
		return
	}
	l, err := s.core.Listing(lid)
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeResult(w, listingResult(&l))
}

func (s *Server) handleOpenListings(w http.ResponseWriter, r *http.Request) {
	open := s.core.OpenListings()
	results := make([]*ListingResult, 0, len(open))
	for i := range open {
		results = append(results, listingResult(&open[i]))
	}
	writeResult(w, results)
}
