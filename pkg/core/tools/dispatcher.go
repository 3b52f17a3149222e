package tools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/vango-go/vai-phone/pkg/notify"
)

const (
	DefaultNotifyTimeout  = 10 * time.Second
	DefaultPersistTimeout = 10 * time.Second

	orderNotifyTitle  = "Ordre reçus"
	demandNotifyTitle = "Nouvelle Demande"
	demandPreviewLen  = 50
)

// Recorder receives dispatch metrics. pkg/gateway/metrics implements it.
type Recorder interface {
	RecordToolInvocation(tool, status string)
	RecordPersistenceFailure(tool string)
	RecordNotifyFailure()
}

type Dependencies struct {
	Store          Store
	Notifier       notify.Notifier
	Logger         *slog.Logger
	Tracer         trace.Tracer
	Metrics        Recorder
	NotifyTimeout  time.Duration
	// PersistTimeout bounds store calls, which outlive the call context.
	PersistTimeout time.Duration
	Now            func() time.Time
}

// Dispatcher executes tool invocations. Each Dispatch returns exactly one
// Ack; notifications run in the background and never affect the Ack.
type Dispatcher struct {
	store          Store
	notifier       notify.Notifier
	logger         *slog.Logger
	tracer         trace.Tracer
	metrics        Recorder
	notifyTimeout  time.Duration
	persistTimeout time.Duration
	now            func() time.Time
	schemas        map[string]*jsonschema.Schema

	wg sync.WaitGroup
}

func NewDispatcher(deps Dependencies) (*Dispatcher, error) {
	if deps.Store == nil {
		return nil, errors.New("tools: store is required")
	}
	schemas, err := compileSchemas(Declarations())
	if err != nil {
		return nil, err
	}
	d := &Dispatcher{
		store:          deps.Store,
		notifier:       deps.Notifier,
		logger:         deps.Logger,
		tracer:         deps.Tracer,
		metrics:        deps.Metrics,
		notifyTimeout:  deps.NotifyTimeout,
		persistTimeout: deps.PersistTimeout,
		now:            deps.Now,
		schemas:        schemas,
	}
	if d.notifier == nil {
		d.notifier = notify.Nop{}
	}
	if d.logger == nil {
		d.logger = slog.Default()
	}
	if d.tracer == nil {
		d.tracer = noop.NewTracerProvider().Tracer("vai-phone/tools")
	}
	if d.notifyTimeout <= 0 {
		d.notifyTimeout = DefaultNotifyTimeout
	}
	if d.persistTimeout <= 0 {
		d.persistTimeout = DefaultPersistTimeout
	}
	if d.now == nil {
		d.now = time.Now
	}
	return d, nil
}

// Dispatch validates and executes inv for the call described by cc.
func (d *Dispatcher) Dispatch(ctx context.Context, cc CallContext, inv Invocation) Ack {
	ctx, span := d.tracer.Start(ctx, "tools.dispatch", trace.WithAttributes(
		attribute.String("tool.name", inv.Name),
		attribute.String("tool.call_id", inv.ID),
		attribute.String("call.id", cc.CallID),
	))
	defer span.End()

	var ack Ack
	switch kind := KindOf(inv.Name); kind {
	case KindCreateOrder:
		ack = d.createOrder(ctx, cc, inv)
	case KindSubmitDemand:
		ack = d.submitDemand(ctx, cc, inv)
	default:
		ack = failure(inv, CodeUnknownTool, fmt.Sprintf("unknown tool %q", inv.Name))
		d.logger.Warn("unknown tool invoked", "call_id", cc.CallID, "tool", inv.Name)
	}

	if ack.OK() {
		span.SetStatus(codes.Ok, "")
	} else {
		span.SetStatus(codes.Error, ack.Code)
	}
	if d.metrics != nil {
		d.metrics.RecordToolInvocation(KindOf(inv.Name).String(), ack.Status)
	}
	return ack
}

func (d *Dispatcher) validate(inv Invocation) error {
	schema, ok := d.schemas[inv.Name]
	if !ok {
		return fmt.Errorf("no schema for %s", inv.Name)
	}
	return validateArgs(schema, inv.Args)
}

func (d *Dispatcher) createOrder(ctx context.Context, cc CallContext, inv Invocation) Ack {
	if err := d.validate(inv); err != nil {
		d.logger.Info("create_order rejected", "call_id", cc.CallID, "error", err)
		return failure(inv, CodeInvalidArguments, validationMessage(err))
	}

	address := stringArg(inv.Args, "address")
	if address == "" {
		address = AddressUnspecified
	}
	order := Order{
		Status:        OrderReceived,
		Detail:        stringArg(inv.Args, "order_details"),
		CustomerName:  stringArg(inv.Args, "customer_name"),
		CustomerPhone: cc.CallerPhone,
		CompanyID:     cc.CompanyID,
		CompanyPhone:  cc.CompanyPhone,
		Address:       address,
		CreatedAt:     d.now().UTC(),
	}
	pctx, cancel := d.persistContext(ctx)
	defer cancel()
	id, err := d.store.CreateOrder(pctx, order)
	if err != nil {
		d.persistenceFailed(cc, inv, err)
		return failure(inv, CodePersistence, "order could not be saved")
	}
	d.logger.Info("order created", "call_id", cc.CallID, "order_id", id, "from", cc.CallerPhone)

	d.notifyAsync(ctx, cc, notify.Message{
		Title: orderNotifyTitle,
		Body:  order.CustomerName + ": " + order.Detail,
	})
	return Ack{ID: inv.ID, Name: inv.Name, Status: StatusSuccess, OrderID: id, Message: fmt.Sprintf("Order #%d created", id)}
}

func (d *Dispatcher) submitDemand(ctx context.Context, cc CallContext, inv Invocation) Ack {
	if err := d.validate(inv); err != nil {
		d.logger.Info("submit_demand rejected", "call_id", cc.CallID, "error", err)
		return failure(inv, CodeInvalidArguments, validationMessage(err))
	}

	demand := Demand{
		CompanyID:     cc.CompanyID,
		CustomerName:  stringArg(inv.Args, "customer_name"),
		CustomerPhone: cc.CallerPhone,
		Content:       stringArg(inv.Args, "content"),
		Status:        DemandNew,
		CreatedAt:     d.now().UTC(),
	}

	pctx, cancel := d.persistContext(ctx)
	defer cancel()

	// A withheld caller id matches every other anonymous caller.
	var (
		latest Order
		err    error = ErrNoOpenOrder
	)
	if cc.CallerPhone != "" {
		latest, err = d.store.FindLatestOpenOrder(pctx, cc.CallerPhone, cc.CompanyID)
	}
	switch {
	case err == nil:
		id := latest.ID
		demand.OrderID = &id
		if demand.CustomerName == "" {
			demand.CustomerName = latest.CustomerName
		}
	case errors.Is(err, ErrNoOpenOrder):
	default:
		d.logger.Warn("open order lookup failed, recording unlinked demand", "call_id", cc.CallID, "error", err)
	}
	if demand.CustomerName == "" {
		demand.CustomerName = UnknownCustomer
	}

	id, err := d.store.CreateDemand(pctx, demand)
	if err != nil {
		d.persistenceFailed(cc, inv, err)
		return failure(inv, CodePersistence, "request could not be saved")
	}
	d.logger.Info("demand created", "call_id", cc.CallID, "demand_id", id, "linked", demand.OrderID != nil)

	d.notifyAsync(ctx, cc, notify.Message{
		Title: demandNotifyTitle,
		Body:  demand.CustomerName + ": " + preview(demand.Content, demandPreviewLen),
	})
	return Ack{ID: inv.ID, Name: inv.Name, Status: StatusSuccess, DemandID: id, Message: "Request recorded"}
}

func (d *Dispatcher) persistenceFailed(cc CallContext, inv Invocation, err error) {
	d.logger.Error("tool persistence failed", "call_id", cc.CallID, "tool", inv.Name, "error", err)
	if d.metrics != nil {
		d.metrics.RecordPersistenceFailure(inv.Name)
	}
}

// persistContext detaches store writes from the call so a caller hanging up
// after confirming still gets the record saved.
func (d *Dispatcher) persistContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), d.persistTimeout)
}

// notifyAsync detaches from the call so a hang-up does not cancel delivery;
// the notify timeout bounds it instead.
func (d *Dispatcher) notifyAsync(ctx context.Context, cc CallContext, msg notify.Message) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.notifyTimeout)
		defer cancel()
		if err := d.notifier.Notify(nctx, msg); err != nil {
			d.logger.Warn("notification failed", "call_id", cc.CallID, "error", err)
			if d.metrics != nil {
				d.metrics.RecordNotifyFailure()
			}
		}
	}()
}

// Wait blocks until in-flight notifications finish or ctx is done.
func (d *Dispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func failure(inv Invocation, code, msg string) Ack {
	return Ack{ID: inv.ID, Name: inv.Name, Status: StatusFailure, Code: code, Message: msg}
}

func validationMessage(err error) string {
	var ve *jsonschema.ValidationError
	if errors.As(err, &ve) {
		if leaf := deepestCause(ve); leaf != nil {
			loc := strings.TrimPrefix(leaf.InstanceLocation, "/")
			if loc == "" {
				return leaf.Message
			}
			return loc + ": " + leaf.Message
		}
	}
	return err.Error()
}

func deepestCause(ve *jsonschema.ValidationError) *jsonschema.ValidationError {
	for len(ve.Causes) > 0 {
		ve = ve.Causes[0]
	}
	return ve
}

func preview(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n]) + "..."
}
