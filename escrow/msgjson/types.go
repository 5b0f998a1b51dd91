// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package msgjson

import (
	"encoding/json"
	"errors"
	"fmt"

	"escrowmarket.org/escrowd/escrow"
)

// Error codes
const (
	RPCErrorUnspecified = iota // 0
	RPCParseError              // 1
	RPCUnknownRoute            // 2
	RPCInternal                // 3
	RPCArgumentsError          // 4
	InvalidQuantityError       // 5
	InvalidPriceError          // 6
	InvalidStateError          // 7
	UnauthorizedError          // 8
	OverflowError              // 9
	FundingError               // 10
	UnknownListingError        // 11
)

// Routes are destinations for a "payload" of data. The type of data being
// delivered, and what kind of action is expected from the receiving party,
// is completely dependent on the route.
const (
	// ListingCreatedRoute is the route of the notification sent after a
	// listing is created and its quantity locked in custody.
	ListingCreatedRoute = "listing_created"
	// PurchasedRoute is the route of the notification sent after a
	// successful purchase settlement.
	PurchasedRoute = "purchased"
	// CanceledRoute is the route of the notification sent after a listing
	// is unwound.
	CanceledRoute = "canceled"
	// FeeWithdrawnRoute is the route of the notification sent after the
	// administrator drains the fee vault.
	FeeWithdrawnRoute = "fee_withdrawn"
)

// Bytes is a byte slice that marshals to and unmarshals from a hexadecimal
// string.
type Bytes []byte

// MarshalJSON satisfies the json.Marshaler interface.
func (b Bytes) MarshalJSON() ([]byte, error) {
	return json.Marshal(fmt.Sprintf("%x", []byte(b)))
}

// UnmarshalJSON satisfies the json.Unmarshaler interface.
func (b *Bytes) UnmarshalJSON(encHex []byte) error {
	if len(encHex) < 2 {
		return fmt.Errorf("marshalled Bytes, %q, not valid", string(encHex))
	}
	if encHex[0] != '"' || encHex[len(encHex)-1] != '"' {
		return fmt.Errorf("marshalled Bytes %q not quoted", string(encHex))
	}
	_, err := fmt.Sscanf(string(encHex[1:len(encHex)-1]), "%x", (*[]byte)(b))
	return err
}

// Error is returned as part of the Response to an operation request when the
// operation fails.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Error satisfies the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("error code %d: %s", e.Code, e.Message)
}

// NewError is a constructor for an Error.
func NewError(code int, format string, a ...any) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, a...),
	}
}

// ErrorCode maps the settlement error taxonomy onto msgjson error codes for
// transport to clients.
func ErrorCode(err error) int {
	switch {
	case errors.Is(err, escrow.ErrInvalidQuantity):
		return InvalidQuantityError
	case errors.Is(err, escrow.ErrInvalidPrice):
		return InvalidPriceError
	case errors.Is(err, escrow.ErrInvalidState):
		return InvalidStateError
	case errors.Is(err, escrow.ErrUnauthorized):
		return UnauthorizedError
	case errors.Is(err, escrow.ErrOverflow):
		return OverflowError
	case errors.Is(err, escrow.ErrInsufficientBalance),
		errors.Is(err, escrow.ErrAccountNotFound),
		errors.Is(err, escrow.ErrAssetMismatch):
		return FundingError
	case errors.Is(err, escrow.ErrListingNotFound):
		return UnknownListingError
	}
	return RPCErrorUnspecified
}

// MessageType indicates the type of message.
type MessageType uint8

const (
	InvalidMessageType MessageType = iota // 0
	Request                               // 1
	Response                              // 2
	Notification                          // 3
)

// String satisfies the Stringer interface for translating the MessageType
// code into a description, primarily for logging.
func (mt MessageType) String() string {
	switch mt {
	case Request:
		return "request"
	case Response:
		return "response"
	case Notification:
		return "notification"
	default:
		return "unknown MessageType"
	}
}

// Message is the primary messaging type for websocket communications.
type Message struct {
	// Type is the message type.
	Type MessageType `json:"type"`
	// Route is used for requests and notifications, and specifies a
	// handler for the message.
	Route string `json:"route,omitempty"`
	// ID is a unique number that is used to link a response to a request.
	ID uint64 `json:"id,omitempty"`
	// Payload is any data attached to the message. How Payload is decoded
	// depends on the Route.
	Payload json.RawMessage `json:"payload,omitempty"`
}

// DecodeMessage decodes a *Message from JSON-formatted bytes.
func DecodeMessage(b []byte) (*Message, error) {
	msg := new(Message)
	err := json.Unmarshal(b, &msg)
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// NewNotification encodes the payload and creates a Notification-type
// *Message.
func NewNotification(route string, payload any) (*Message, error) {
	if route == "" {
		return nil, fmt.Errorf("empty string not allowed for route of notification-type message")
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Message{
		Type:    Notification,
		Route:   route,
		Payload: encoded,
	}, nil
}

// NewResponse encodes the result and creates a Response-type *Message.
func NewResponse(id uint64, result any, rpcErr *Error) (*Message, error) {
	encResult, err := json.Marshal(result)
	if err != nil {
		return nil, err
	}
	resp := &ResponsePayload{
		Result: encResult,
		Error:  rpcErr,
	}
	encResp, err := json.Marshal(resp)
	if err != nil {
		return nil, err
	}
	return &Message{
		Type:    Response,
		ID:      id,
		Payload: encResp,
	}, nil
}

// Response returns the ResponsePayload for a Response-type Message.
func (msg *Message) Response() (*ResponsePayload, error) {
	if msg.Type != Response {
		return nil, fmt.Errorf("invalid type %s for ResponsePayload", msg.Type)
	}
	resp := new(ResponsePayload)
	err := json.Unmarshal(msg.Payload, &resp)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// Unmarshal unmarshals the Payload field into the provided interface.
func (msg *Message) Unmarshal(payload any) error {
	return json.Unmarshal(msg.Payload, payload)
}

// ResponsePayload is the payload for a Response-type Message.
type ResponsePayload struct {
	// Result is the payload, if successful, else nil.
	Result json.RawMessage `json:"result,omitempty"`
	// Error is the error, or nil if none was encountered.
	Error *Error `json:"error,omitempty"`
}

// ListingCreatedNote is the notification sent when a listing is created.
type ListingCreatedNote struct {
	Seller   Bytes  `json:"seller"`
	Listing  Bytes  `json:"listing"`
	Asset    Bytes  `json:"asset"`
	Price    uint64 `json:"price"`
	Quantity uint64 `json:"quantity"`
}

// PurchasedNote is the notification sent when a listing settles.
type PurchasedNote struct {
	Listing Bytes  `json:"listing"`
	Buyer   Bytes  `json:"buyer"`
	Price   uint64 `json:"price"`
}

// CanceledNote is the notification sent when a listing is unwound.
type CanceledNote struct {
	Listing Bytes `json:"listing"`
	Seller  Bytes `json:"seller"`
}

// FeeWithdrawnNote is the notification sent when the administrator drains
// the fee vault.
type FeeWithdrawnNote struct {
	Admin  Bytes  `json:"admin"`
	Amount uint64 `json:"amount"`
}
