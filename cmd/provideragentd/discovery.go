package main

import (
	"context"
	"fmt"
	"time"

	"github.com/golem-market/provideragent/internal/matcher"
	"github.com/golem-market/provideragent/internal/store"
	"github.com/golem-market/provideragent/rpcclient/discoveryapi"
	"google.golang.org/grpc"
)

func unixNano(ns int64) time.Time {
	return time.Unix(0, ns)
}

// RetrieveOffersRequest/Response complete the Discovery service's inbound
// half; BroadcastOffer/BroadcastUnsubscribe reuse discoveryapi's wire types
// since the same messages cross the wire in both directions of the gossip
// exchange.
type RetrieveOffersRequest struct {
	MaxResults int32 `protobuf:"varint,1,opt,name=max_results,json=maxResults"`
}

func (m *RetrieveOffersRequest) Reset()         { *m = RetrieveOffersRequest{} }
func (m *RetrieveOffersRequest) String() string { return fmt.Sprintf("%+v", *m) }
func (*RetrieveOffersRequest) ProtoMessage()     {}

type RetrieveOffersResponse struct {
	Offers []*discoveryapi.OfferWire `protobuf:"bytes,1,rep,name=offers"`
}

func (m *RetrieveOffersResponse) Reset()         { *m = RetrieveOffersResponse{} }
func (m *RetrieveOffersResponse) String() string { return fmt.Sprintf("%+v", *m) }
func (*RetrieveOffersResponse) ProtoMessage()     {}

// discoveryServer adapts inbound gossip RPCs onto a matcher.Matcher. Unlike
// controlServer, matcher.Matcher has no mailbox of its own -- its Store is
// already safe for concurrent callers, so handlers run inline.
type discoveryServer struct {
	matcher *matcher.Matcher
}

func (s *discoveryServer) BroadcastOffer(ctx context.Context, req *discoveryapi.OfferWire) (*discoveryapi.Empty, error) {
	offer := store.Record{
		ID:          store.SubscriptionId(req.Id),
		Kind:        store.KindOffer,
		AuthorID:    req.AuthorId,
		Properties:  req.Properties,
		Constraints: req.Constraints,
	}
	if req.ExpiresAt != 0 {
		offer.ExpiresAt = unixNano(req.ExpiresAt)
	}

	verdict := s.matcher.OfferReceived(offer)
	if !verdict.Allow {
		log.Debugf("Offer [%s] not propagated: %s %s", offer.ID, verdict.Reason, verdict.Detail)
		return &discoveryapi.Empty{}, nil
	}

	rebroadcastOffer(s, offer)
	return &discoveryapi.Empty{}, nil
}

func (s *discoveryServer) BroadcastUnsubscribe(ctx context.Context, req *discoveryapi.UnsubscribeRequest) (*discoveryapi.Empty, error) {
	id := store.SubscriptionId(req.SubscriptionId)
	verdict := s.matcher.OfferUnsubscribed(id)
	if !verdict.Allow {
		log.Debugf("Unsubscribe [%s] not propagated: %s %s", id, verdict.Reason, verdict.Detail)
	}
	return &discoveryapi.Empty{}, nil
}

func (s *discoveryServer) RetrieveOffers(ctx context.Context, req *RetrieveOffersRequest) (*RetrieveOffersResponse, error) {
	records := s.matcher.RetrieveOffers(int(req.MaxResults))
	wire := make([]*discoveryapi.OfferWire, len(records))
	for i, r := range records {
		w := &discoveryapi.OfferWire{
			Id:          string(r.ID),
			AuthorId:    r.AuthorID,
			Properties:  r.Properties,
			Constraints: r.Constraints,
		}
		if !r.ExpiresAt.IsZero() {
			w.ExpiresAt = r.ExpiresAt.UnixNano()
		}
		wire[i] = w
	}
	return &RetrieveOffersResponse{Offers: wire}, nil
}

func _Discovery_BroadcastOffer_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(discoveryapi.OfferWire)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(*discoveryServer).BroadcastOffer(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/provideragent.Discovery/BroadcastOffer"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(*discoveryServer).BroadcastOffer(ctx, req.(*discoveryapi.OfferWire))
	}
	return interceptor(ctx, in, info, handler)
}

func _Discovery_BroadcastUnsubscribe_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(discoveryapi.UnsubscribeRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(*discoveryServer).BroadcastUnsubscribe(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/provideragent.Discovery/BroadcastUnsubscribe"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(*discoveryServer).BroadcastUnsubscribe(ctx, req.(*discoveryapi.UnsubscribeRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _Discovery_RetrieveOffers_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(RetrieveOffersRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(*discoveryServer).RetrieveOffers(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/provideragent.Discovery/RetrieveOffers"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(*discoveryServer).RetrieveOffers(ctx, req.(*RetrieveOffersRequest))
	}
	return interceptor(ctx, in, info, handler)
}

var discoveryServiceDesc = grpc.ServiceDesc{
	ServiceName: "provideragent.Discovery",
	HandlerType: (*discoveryServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "BroadcastOffer", Handler: _Discovery_BroadcastOffer_Handler},
		{MethodName: "BroadcastUnsubscribe", Handler: _Discovery_BroadcastUnsubscribe_Handler},
		{MethodName: "RetrieveOffers", Handler: _Discovery_RetrieveOffers_Handler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "discovery.proto",
}

// rebroadcastOffer re-broadcasts an accepted offer to the rest of this
// node's peer set via the matcher's outbound broadcast queue, so a slow
// discovery transport never stalls the BroadcastOffer handler that admitted
// it. The broadcast goes only to the single configured discovery endpoint;
// there is no peer-set management.
func rebroadcastOffer(s *discoveryServer, offer store.Record) {
	s.matcher.EnqueueBroadcastOffer(offer)
}
