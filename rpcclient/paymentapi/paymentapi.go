// Package paymentapi adapts the consumed Payment API to a gRPC client
// satisfying internal/payments.PaymentAPI.
package paymentapi

import (
	"context"
	"fmt"
	"time"

	"github.com/golem-market/provideragent/internal/ledger"
	"github.com/golem-market/provideragent/internal/payments"
	"github.com/shopspring/decimal"
	"google.golang.org/grpc"
)

// Wire message types, hand written against the golang/protobuf v1
// reflection-based codec pending a generated payment.proto contract.

type IssueDebitNoteRequest struct {
	AgreementId     string    `protobuf:"bytes,1,opt,name=agreement_id,json=agreementId"`
	ActivityId      string    `protobuf:"bytes,2,opt,name=activity_id,json=activityId"`
	TotalAmountDue  string    `protobuf:"bytes,3,opt,name=total_amount_due,json=totalAmountDue"`
	UsageCounterVec []float64 `protobuf:"fixed64,4,rep,packed,name=usage_counter_vec,json=usageCounterVec"`
	PaymentDeadline int64     `protobuf:"varint,5,opt,name=payment_deadline,json=paymentDeadline"` // unix nanos, 0 = none
}

func (m *IssueDebitNoteRequest) Reset()         { *m = IssueDebitNoteRequest{} }
func (m *IssueDebitNoteRequest) String() string { return fmt.Sprintf("%+v", *m) }
func (*IssueDebitNoteRequest) ProtoMessage()     {}

type IdResponse struct {
	Id string `protobuf:"bytes,1,opt,name=id"`
}

func (m *IdResponse) Reset()         { *m = IdResponse{} }
func (m *IdResponse) String() string { return fmt.Sprintf("%+v", *m) }
func (*IdResponse) ProtoMessage()     {}

type AckRequest struct {
	Id string `protobuf:"bytes,1,opt,name=id"`
}

func (m *AckRequest) Reset()         { *m = AckRequest{} }
func (m *AckRequest) String() string { return fmt.Sprintf("%+v", *m) }
func (*AckRequest) ProtoMessage()     {}

type Empty struct{}

func (m *Empty) Reset()         { *m = Empty{} }
func (m *Empty) String() string { return "" }
func (*Empty) ProtoMessage()     {}

type IssueInvoiceRequest struct {
	AgreementId    string   `protobuf:"bytes,1,opt,name=agreement_id,json=agreementId"`
	ActivityIds    []string `protobuf:"bytes,2,rep,name=activity_ids,json=activityIds"`
	Amount         string   `protobuf:"bytes,3,opt,name=amount"`
	PaymentDueDate int64    `protobuf:"varint,4,opt,name=payment_due_date,json=paymentDueDate"`
}

func (m *IssueInvoiceRequest) Reset()         { *m = IssueInvoiceRequest{} }
func (m *IssueInvoiceRequest) String() string { return fmt.Sprintf("%+v", *m) }
func (*IssueInvoiceRequest) ProtoMessage()     {}

type GetInvoiceRequest struct {
	Id string `protobuf:"bytes,1,opt,name=id"`
}

func (m *GetInvoiceRequest) Reset()         { *m = GetInvoiceRequest{} }
func (m *GetInvoiceRequest) String() string { return fmt.Sprintf("%+v", *m) }
func (*GetInvoiceRequest) ProtoMessage()     {}

type InvoiceWire struct {
	Id             string `protobuf:"bytes,1,opt,name=id"`
	AgreementId    string `protobuf:"bytes,2,opt,name=agreement_id,json=agreementId"`
	Amount         string `protobuf:"bytes,3,opt,name=amount"`
	PaymentDueDate int64  `protobuf:"varint,4,opt,name=payment_due_date,json=paymentDueDate"`
}

func (m *InvoiceWire) Reset()         { *m = InvoiceWire{} }
func (m *InvoiceWire) String() string { return fmt.Sprintf("%+v", *m) }
func (*InvoiceWire) ProtoMessage()     {}

type GetEventsRequest struct {
	After     int64  `protobuf:"varint,1,opt,name=after"`
	TimeoutMs int64  `protobuf:"varint,2,opt,name=timeout_ms,json=timeoutMs"`
	SessionId string `protobuf:"bytes,3,opt,name=session_id,json=sessionId"`
}

func (m *GetEventsRequest) Reset()         { *m = GetEventsRequest{} }
func (m *GetEventsRequest) String() string { return fmt.Sprintf("%+v", *m) }
func (*GetEventsRequest) ProtoMessage()     {}

type InvoiceEventWire struct {
	InvoiceId string `protobuf:"bytes,1,opt,name=invoice_id,json=invoiceId"`
	Kind      int32  `protobuf:"varint,2,opt,name=kind"`
	Timestamp int64  `protobuf:"varint,3,opt,name=timestamp"`
}

func (m *InvoiceEventWire) Reset()         { *m = InvoiceEventWire{} }
func (m *InvoiceEventWire) String() string { return fmt.Sprintf("%+v", *m) }
func (*InvoiceEventWire) ProtoMessage()     {}

type InvoiceEventsResponse struct {
	Events []*InvoiceEventWire `protobuf:"bytes,1,rep,name=events"`
}

func (m *InvoiceEventsResponse) Reset()         { *m = InvoiceEventsResponse{} }
func (m *InvoiceEventsResponse) String() string { return fmt.Sprintf("%+v", *m) }
func (*InvoiceEventsResponse) ProtoMessage()     {}

type DebitNoteEventWire struct {
	DebitNoteId string `protobuf:"bytes,1,opt,name=debit_note_id,json=debitNoteId"`
	Kind        int32  `protobuf:"varint,2,opt,name=kind"`
	Timestamp   int64  `protobuf:"varint,3,opt,name=timestamp"`
}

func (m *DebitNoteEventWire) Reset()         { *m = DebitNoteEventWire{} }
func (m *DebitNoteEventWire) String() string { return fmt.Sprintf("%+v", *m) }
func (*DebitNoteEventWire) ProtoMessage()     {}

type DebitNoteEventsResponse struct {
	Events []*DebitNoteEventWire `protobuf:"bytes,1,rep,name=events"`
}

func (m *DebitNoteEventsResponse) Reset()         { *m = DebitNoteEventsResponse{} }
func (m *DebitNoteEventsResponse) String() string { return fmt.Sprintf("%+v", *m) }
func (*DebitNoteEventsResponse) ProtoMessage()     {}

// Client is a gRPC-backed Payment API client.
type Client struct {
	conn *grpc.ClientConn
}

// Dial connects to the Payment API endpoint at target.
func Dial(target string, opts ...grpc.DialOption) (*Client, error) {
	conn, err := grpc.Dial(target, opts...)
	if err != nil {
		return nil, fmt.Errorf("dial payment api at %s: %w", target, err)
	}
	return &Client{conn: conn}, nil
}

// Close releases the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) IssueDebitNote(ctx context.Context, info payments.DebitNoteInfo) (string, error) {
	req := &IssueDebitNoteRequest{
		AgreementId:     string(info.AgreementID),
		ActivityId:      string(info.ActivityID),
		TotalAmountDue:  info.TotalAmountDue.String(),
		UsageCounterVec: info.UsageCounterVec,
	}
	if info.PaymentDeadline != nil {
		req.PaymentDeadline = info.PaymentDeadline.UnixNano()
	}

	resp := &IdResponse{}
	if err := c.conn.Invoke(ctx, "/provideragent.PaymentApi/IssueDebitNote", req, resp); err != nil {
		return "", fmt.Errorf("IssueDebitNote: %w", err)
	}
	return resp.Id, nil
}

func (c *Client) SendDebitNote(ctx context.Context, id string) error {
	req := &AckRequest{Id: id}
	resp := &Empty{}
	if err := c.conn.Invoke(ctx, "/provideragent.PaymentApi/SendDebitNote", req, resp); err != nil {
		return fmt.Errorf("SendDebitNote(%s): %w", id, err)
	}
	return nil
}

func (c *Client) IssueInvoice(ctx context.Context, info payments.InvoiceInfo) (string, error) {
	activityIds := make([]string, len(info.ActivityIDs))
	for i, id := range info.ActivityIDs {
		activityIds[i] = string(id)
	}

	req := &IssueInvoiceRequest{
		AgreementId:    string(info.AgreementID),
		ActivityIds:    activityIds,
		Amount:         info.Amount.String(),
		PaymentDueDate: info.PaymentDueDate.UnixNano(),
	}

	resp := &IdResponse{}
	if err := c.conn.Invoke(ctx, "/provideragent.PaymentApi/IssueInvoice", req, resp); err != nil {
		return "", fmt.Errorf("IssueInvoice: %w", err)
	}
	return resp.Id, nil
}

func (c *Client) SendInvoice(ctx context.Context, id string) error {
	req := &AckRequest{Id: id}
	resp := &Empty{}
	if err := c.conn.Invoke(ctx, "/provideragent.PaymentApi/SendInvoice", req, resp); err != nil {
		return fmt.Errorf("SendInvoice(%s): %w", id, err)
	}
	return nil
}

func (c *Client) GetInvoice(ctx context.Context, id string) (payments.Invoice, error) {
	req := &GetInvoiceRequest{Id: id}
	resp := &InvoiceWire{}
	if err := c.conn.Invoke(ctx, "/provideragent.PaymentApi/GetInvoice", req, resp); err != nil {
		return payments.Invoice{}, fmt.Errorf("GetInvoice(%s): %w", id, err)
	}

	amount, err := decimal.NewFromString(resp.Amount)
	if err != nil {
		return payments.Invoice{}, fmt.Errorf("GetInvoice(%s): parse amount %q: %w", id, resp.Amount, err)
	}

	return payments.Invoice{
		ID:             resp.Id,
		AgreementID:    ledger.AgreementId(resp.AgreementId),
		Amount:         amount,
		PaymentDueDate: time.Unix(0, resp.PaymentDueDate),
	}, nil
}

func (c *Client) GetInvoiceEvents(ctx context.Context, after time.Time, timeout time.Duration, sessionID string) ([]payments.InvoiceEvent, error) {
	req := &GetEventsRequest{
		After:     after.UnixNano(),
		TimeoutMs: timeout.Milliseconds(),
		SessionId: sessionID,
	}

	resp := &InvoiceEventsResponse{}
	if err := c.conn.Invoke(ctx, "/provideragent.PaymentApi/GetInvoiceEvents", req, resp); err != nil {
		return nil, fmt.Errorf("GetInvoiceEvents: %w", err)
	}

	events := make([]payments.InvoiceEvent, len(resp.Events))
	for i, ev := range resp.Events {
		events[i] = payments.InvoiceEvent{
			InvoiceID: ev.InvoiceId,
			Kind:      payments.InvoiceEventKind(ev.Kind),
			Timestamp: time.Unix(0, ev.Timestamp),
		}
	}
	return events, nil
}

func (c *Client) GetDebitNoteEvents(ctx context.Context, after time.Time, timeout time.Duration, sessionID string) ([]payments.DebitNoteEvent, error) {
	req := &GetEventsRequest{
		After:     after.UnixNano(),
		TimeoutMs: timeout.Milliseconds(),
		SessionId: sessionID,
	}

	resp := &DebitNoteEventsResponse{}
	if err := c.conn.Invoke(ctx, "/provideragent.PaymentApi/GetDebitNoteEvents", req, resp); err != nil {
		return nil, fmt.Errorf("GetDebitNoteEvents: %w", err)
	}

	events := make([]payments.DebitNoteEvent, len(resp.Events))
	for i, ev := range resp.Events {
		events[i] = payments.DebitNoteEvent{
			DebitNoteID: ev.DebitNoteId,
			Kind:        payments.DebitNoteEventKind(ev.Kind),
			Timestamp:   time.Unix(0, ev.Timestamp),
		}
	}
	return events, nil
}
