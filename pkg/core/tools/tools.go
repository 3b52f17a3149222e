// Package tools turns model tool invocations into order and demand records.
package tools

import (
	"context"
	"errors"
	"time"
)

// Kind is the closed set of tools the agent can invoke.
type Kind int

const (
	KindUnknown Kind = iota
	KindCreateOrder
	KindSubmitDemand
)

const (
	NameCreateOrder  = "create_order"
	NameSubmitDemand = "submit_demand"
)

// KindOf maps a tool name to its Kind.
func KindOf(name string) Kind {
	switch name {
	case NameCreateOrder:
		return KindCreateOrder
	case NameSubmitDemand:
		return KindSubmitDemand
	default:
		return KindUnknown
	}
}

func (k Kind) String() string {
	switch k {
	case KindCreateOrder:
		return NameCreateOrder
	case KindSubmitDemand:
		return NameSubmitDemand
	default:
		return "unknown"
	}
}

// Order statuses. Received and in-progress orders are open.
const (
	OrderReceived   = "received"
	OrderInProgress = "in_progress"
	OrderDone       = "done"
	OrderCancelled  = "cancelled"

	DemandNew = "new"

	AddressUnspecified = "unspecified"
	UnknownCustomer    = "Unknown"
)

// OpenOrderStatuses are the statuses a demand may link to.
var OpenOrderStatuses = []string{OrderReceived, OrderInProgress}

// Ack statuses and failure codes.
const (
	StatusSuccess = "success"
	StatusFailure = "failure"

	CodeUnknownTool      = "unknown_tool"
	CodeInvalidArguments = "invalid_arguments"
	CodePersistence      = "persistence_failed"
)

var (
	// ErrNoOpenOrder is returned by FindLatestOpenOrder when nothing matches.
	ErrNoOpenOrder = errors.New("no open order")
)

// Invocation is one tool call requested by the model.
type Invocation struct {
	ID   string
	Name string
	Args map[string]any
}

// Ack is the single acknowledgement returned for an Invocation.
type Ack struct {
	ID       string
	Name     string
	Status   string
	OrderID  int64
	DemandID int64
	Code     string
	Message  string
}

// OK reports whether the invocation succeeded.
func (a Ack) OK() bool { return a.Status == StatusSuccess }

// Response renders the ack as the structured payload returned to the model.
func (a Ack) Response() map[string]any {
	out := map[string]any{"status": a.Status}
	if a.OrderID != 0 {
		out["order_id"] = a.OrderID
	}
	if a.DemandID != 0 {
		out["demand_id"] = a.DemandID
	}
	if a.Code != "" {
		out["code"] = a.Code
	}
	if a.Message != "" {
		out["message"] = a.Message
	}
	return out
}

// CallContext carries the call-level facts a record is attributed to.
type CallContext struct {
	CallID       string
	CallerPhone  string
	CompanyID    *int64
	CompanyPhone string
}

type Order struct {
	ID            int64
	Status        string
	Detail        string
	CustomerName  string
	CustomerPhone string
	CompanyID     *int64
	CompanyPhone  string
	Address       string
	CreatedAt     time.Time
}

type Demand struct {
	ID            int64
	OrderID       *int64
	CompanyID     *int64
	CustomerName  string
	CustomerPhone string
	Content       string
	Status        string
	CreatedAt     time.Time
}

// Store persists records. Implementations live under pkg/store.
type Store interface {
	CreateOrder(ctx context.Context, o Order) (int64, error)
	CreateDemand(ctx context.Context, d Demand) (int64, error)
	// FindLatestOpenOrder returns the most recent open order placed from
	// customerPhone with the given tenant (nil matches orders without one).
	FindLatestOpenOrder(ctx context.Context, customerPhone string, companyID *int64) (Order, error)
}
