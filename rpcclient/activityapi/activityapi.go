// Package activityapi adapts the consumed Activity API (get_activity_usage)
// to a gRPC client satisfying internal/payments.ActivityAPI.
package activityapi

import (
	"context"
	"fmt"

	"github.com/golem-market/provideragent/internal/ledger"
	"google.golang.org/grpc"
)

// GetActivityUsageRequest is the wire request for GetActivityUsage. Hand
// written against the golang/protobuf v1 reflection-based codec (struct tags
// drive marshaling); a generated .pb.go would replace this once the
// activity.proto contract is finalized.
type GetActivityUsageRequest struct {
	ActivityId string `protobuf:"bytes,1,opt,name=activity_id,json=activityId" json:"activity_id,omitempty"`
}

func (m *GetActivityUsageRequest) Reset()         { *m = GetActivityUsageRequest{} }
func (m *GetActivityUsageRequest) String() string { return fmt.Sprintf("%+v", *m) }
func (*GetActivityUsageRequest) ProtoMessage()     {}

// GetActivityUsageResponse is the wire response for GetActivityUsage.
type GetActivityUsageResponse struct {
	UsageVector []float64 `protobuf:"fixed64,1,rep,packed,name=usage_vector,json=usageVector" json:"usage_vector,omitempty"`
}

func (m *GetActivityUsageResponse) Reset()         { *m = GetActivityUsageResponse{} }
func (m *GetActivityUsageResponse) String() string { return fmt.Sprintf("%+v", *m) }
func (*GetActivityUsageResponse) ProtoMessage()     {}

// Client is a gRPC-backed Activity API client.
type Client struct {
	conn *grpc.ClientConn
}

// Dial connects to the Activity API endpoint at target. Any dial timeout
// (the daemon's grpc_dial_timeout option) is carried in opts.
func Dial(target string, opts ...grpc.DialOption) (*Client, error) {
	conn, err := grpc.Dial(target, opts...)
	if err != nil {
		return nil, fmt.Errorf("dial activity api at %s: %w", target, err)
	}
	return &Client{conn: conn}, nil
}

// Close releases the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// GetActivityUsage implements payments.ActivityAPI.
func (c *Client) GetActivityUsage(ctx context.Context, activityID ledger.ActivityId) ([]float64, error) {
	req := &GetActivityUsageRequest{ActivityId: string(activityID)}
	resp := &GetActivityUsageResponse{}

	err := c.conn.Invoke(ctx, "/provideragent.ActivityApi/GetActivityUsage", req, resp)
	if err != nil {
		return nil, fmt.Errorf("GetActivityUsage(%s): %w", activityID, err)
	}
	return resp.UsageVector, nil
}
