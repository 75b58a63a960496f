// Package discoveryapi adapts the consumed Discovery capability
// (broadcast_offer, broadcast_unsubscribe) to a gRPC client satisfying
// internal/matcher.Discovery. Inbound gossip delivery (OfferReceived,
// OfferUnsubscribed, RetrieveOffers) runs in the other direction -- this
// node's gRPC server calling into matcher.Matcher directly -- and is wired
// in cmd/provideragentd rather than here.
package discoveryapi

import (
	"context"
	"fmt"

	"github.com/golem-market/provideragent/internal/store"
	"google.golang.org/grpc"
	"golang.org/x/time/rate"
)

type OfferWire struct {
	Id          string            `protobuf:"bytes,1,opt,name=id"`
	AuthorId    string            `protobuf:"bytes,2,opt,name=author_id,json=authorId"`
	Properties  map[string]string `protobuf:"bytes,3,rep,name=properties"`
	Constraints string            `protobuf:"bytes,4,opt,name=constraints"`
	ExpiresAt   int64             `protobuf:"varint,5,opt,name=expires_at,json=expiresAt"`
}

func (m *OfferWire) Reset()         { *m = OfferWire{} }
func (m *OfferWire) String() string { return fmt.Sprintf("%+v", *m) }
func (*OfferWire) ProtoMessage()     {}

type UnsubscribeRequest struct {
	AuthorId       string `protobuf:"bytes,1,opt,name=author_id,json=authorId"`
	SubscriptionId string `protobuf:"bytes,2,opt,name=subscription_id,json=subscriptionId"`
}

func (m *UnsubscribeRequest) Reset()         { *m = UnsubscribeRequest{} }
func (m *UnsubscribeRequest) String() string { return fmt.Sprintf("%+v", *m) }
func (*UnsubscribeRequest) ProtoMessage()     {}

type Empty struct{}

func (m *Empty) Reset()         { *m = Empty{} }
func (m *Empty) String() string { return "" }
func (*Empty) ProtoMessage()     {}

// Client is a gRPC-backed Discovery client, rate limited per
// SPEC_FULL.md's discovery_rate_limit_per_sec option so a burst of local
// subscribe/unsubscribe calls cannot flood peers.
type Client struct {
	conn    *grpc.ClientConn
	limiter *rate.Limiter
}

// Dial connects to the Discovery endpoint at target. ratePerSec bounds
// outbound broadcast calls per second; a value <= 0 disables limiting.
func Dial(target string, ratePerSec float64, opts ...grpc.DialOption) (*Client, error) {
	conn, err := grpc.Dial(target, opts...)
	if err != nil {
		return nil, fmt.Errorf("dial discovery api at %s: %w", target, err)
	}

	var limiter *rate.Limiter
	if ratePerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(ratePerSec), 1)
	}

	return &Client{conn: conn, limiter: limiter}, nil
}

// Close releases the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Wait(ctx)
}

// BroadcastOffer implements matcher.Discovery.
func (c *Client) BroadcastOffer(offer store.Record) error {
	ctx := context.Background()
	if err := c.wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	req := &OfferWire{
		Id:          string(offer.ID),
		AuthorId:    offer.AuthorID,
		Properties:  offer.Properties,
		Constraints: offer.Constraints,
	}
	if !offer.ExpiresAt.IsZero() {
		req.ExpiresAt = offer.ExpiresAt.UnixNano()
	}

	resp := &Empty{}
	if err := c.conn.Invoke(ctx, "/provideragent.Discovery/BroadcastOffer", req, resp); err != nil {
		return fmt.Errorf("BroadcastOffer(%s): %w", offer.ID, err)
	}
	return nil
}

// BroadcastUnsubscribe implements matcher.Discovery.
func (c *Client) BroadcastUnsubscribe(authorID string, id store.SubscriptionId) error {
	ctx := context.Background()
	if err := c.wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	req := &UnsubscribeRequest{AuthorId: authorID, SubscriptionId: string(id)}
	resp := &Empty{}
	if err := c.conn.Invoke(ctx, "/provideragent.Discovery/BroadcastUnsubscribe", req, resp); err != nil {
		return fmt.Errorf("BroadcastUnsubscribe(%s): %w", id, err)
	}
	return nil
}
