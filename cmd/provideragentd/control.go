package main

import (
	"context"
	"fmt"
	"time"

	"github.com/golem-market/provideragent/internal/ledger"
	"github.com/golem-market/provideragent/internal/payments"
	"github.com/golem-market/provideragent/internal/paymentmodel"
	"google.golang.org/grpc"
)

// Wire types for the inbound control-event service: the market/negotiation
// subsystem (outside this repository) calls these on every agreement and
// activity lifecycle transition. Hand written against the golang/protobuf v1
// reflection-based codec, same convention as rpcclient/*.

type AgreementApprovedRequest struct {
	AgreementId       string            `protobuf:"bytes,1,opt,name=agreement_id,json=agreementId"`
	ModelName         string            `protobuf:"bytes,2,opt,name=model_name,json=modelName"`
	ModelParams       map[string]string `protobuf:"bytes,3,rep,name=model_params,json=modelParams"`
	UpdateIntervalNs  int64             `protobuf:"varint,4,opt,name=update_interval_ns,json=updateIntervalNs"`
	PaymentDeadlineNs int64             `protobuf:"varint,5,opt,name=payment_deadline_ns,json=paymentDeadlineNs"`
}

func (m *AgreementApprovedRequest) Reset()         { *m = AgreementApprovedRequest{} }
func (m *AgreementApprovedRequest) String() string { return fmt.Sprintf("%+v", *m) }
func (*AgreementApprovedRequest) ProtoMessage()     {}

type ActivityEventRequest struct {
	AgreementId string `protobuf:"bytes,1,opt,name=agreement_id,json=agreementId"`
	ActivityId  string `protobuf:"bytes,2,opt,name=activity_id,json=activityId"`
}

func (m *ActivityEventRequest) Reset()         { *m = ActivityEventRequest{} }
func (m *ActivityEventRequest) String() string { return fmt.Sprintf("%+v", *m) }
func (*ActivityEventRequest) ProtoMessage()     {}

type AgreementClosedRequest struct {
	AgreementId   string `protobuf:"bytes,1,opt,name=agreement_id,json=agreementId"`
	SendTerminate bool   `protobuf:"varint,2,opt,name=send_terminate,json=sendTerminate"`
}

func (m *AgreementClosedRequest) Reset()         { *m = AgreementClosedRequest{} }
func (m *AgreementClosedRequest) String() string { return fmt.Sprintf("%+v", *m) }
func (*AgreementClosedRequest) ProtoMessage()     {}

type AgreementBrokenRequest struct {
	AgreementId string `protobuf:"bytes,1,opt,name=agreement_id,json=agreementId"`
}

func (m *AgreementBrokenRequest) Reset()         { *m = AgreementBrokenRequest{} }
func (m *AgreementBrokenRequest) String() string { return fmt.Sprintf("%+v", *m) }
func (*AgreementBrokenRequest) ProtoMessage()     {}

type Empty struct{}

func (m *Empty) Reset()         { *m = Empty{} }
func (m *Empty) String() string { return "" }
func (*Empty) ProtoMessage()     {}

// controlServer adapts the inbound control-event RPCs directly onto a
// payments.Engine, which is already safe for concurrent callers (every
// public method round-trips through its mailbox).
type controlServer struct {
	engine *payments.Engine
}

func (s *controlServer) AgreementApproved(ctx context.Context, req *AgreementApprovedRequest) (*Empty, error) {
	desc := payments.AgreementDescriptor{
		AgreementID: ledger.AgreementId(req.AgreementId),
		Model: paymentmodel.Descriptor{
			Name:   req.ModelName,
			Params: req.ModelParams,
		},
		UpdateInterval:  time.Duration(req.UpdateIntervalNs),
		PaymentDeadline: time.Duration(req.PaymentDeadlineNs),
	}
	if err := s.engine.AgreementApproved(desc); err != nil {
		return nil, err
	}
	return &Empty{}, nil
}

func (s *controlServer) ActivityCreated(ctx context.Context, req *ActivityEventRequest) (*Empty, error) {
	err := s.engine.ActivityCreated(ledger.AgreementId(req.AgreementId), ledger.ActivityId(req.ActivityId))
	if err != nil {
		return nil, err
	}
	return &Empty{}, nil
}

func (s *controlServer) ActivityDestroyed(ctx context.Context, req *ActivityEventRequest) (*Empty, error) {
	err := s.engine.ActivityDestroyed(ledger.AgreementId(req.AgreementId), ledger.ActivityId(req.ActivityId))
	if err != nil {
		return nil, err
	}
	return &Empty{}, nil
}

func (s *controlServer) AgreementClosed(ctx context.Context, req *AgreementClosedRequest) (*Empty, error) {
	err := s.engine.AgreementClosed(ledger.AgreementId(req.AgreementId), req.SendTerminate)
	if err != nil {
		return nil, err
	}
	return &Empty{}, nil
}

func (s *controlServer) AgreementBroken(ctx context.Context, req *AgreementBrokenRequest) (*Empty, error) {
	if err := s.engine.AgreementBroken(ledger.AgreementId(req.AgreementId)); err != nil {
		return nil, err
	}
	return &Empty{}, nil
}

func _Control_AgreementApproved_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(AgreementApprovedRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(*controlServer).AgreementApproved(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/provideragent.Control/AgreementApproved"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(*controlServer).AgreementApproved(ctx, req.(*AgreementApprovedRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _Control_ActivityCreated_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(ActivityEventRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(*controlServer).ActivityCreated(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/provideragent.Control/ActivityCreated"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(*controlServer).ActivityCreated(ctx, req.(*ActivityEventRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _Control_ActivityDestroyed_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(ActivityEventRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(*controlServer).ActivityDestroyed(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/provideragent.Control/ActivityDestroyed"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(*controlServer).ActivityDestroyed(ctx, req.(*ActivityEventRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _Control_AgreementClosed_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(AgreementClosedRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(*controlServer).AgreementClosed(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/provideragent.Control/AgreementClosed"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(*controlServer).AgreementClosed(ctx, req.(*AgreementClosedRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _Control_AgreementBroken_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(AgreementBrokenRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(*controlServer).AgreementBroken(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/provideragent.Control/AgreementBroken"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(*controlServer).AgreementBroken(ctx, req.(*AgreementBrokenRequest))
	}
	return interceptor(ctx, in, info, handler)
}

var controlServiceDesc = grpc.ServiceDesc{
	ServiceName: "provideragent.Control",
	HandlerType: (*controlServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "AgreementApproved", Handler: _Control_AgreementApproved_Handler},
		{MethodName: "ActivityCreated", Handler: _Control_ActivityCreated_Handler},
		{MethodName: "ActivityDestroyed", Handler: _Control_ActivityDestroyed_Handler},
		{MethodName: "AgreementClosed", Handler: _Control_AgreementClosed_Handler},
		{MethodName: "AgreementBroken", Handler: _Control_AgreementBroken_Handler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "control.proto",
}
