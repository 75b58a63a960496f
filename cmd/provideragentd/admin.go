package main

import (
	"context"
	"fmt"

	"github.com/golem-market/provideragent/internal/payments"
	"github.com/golem-market/provideragent/internal/store"
	"google.golang.org/grpc"
)

// GetEarningsResponse carries the payments engine's cumulative settled
// earnings, string-encoded to preserve decimal precision across the wire.
type GetEarningsResponse struct {
	Earnings string `protobuf:"bytes,1,opt,name=earnings"`
}

func (m *GetEarningsResponse) Reset()         { *m = GetEarningsResponse{} }
func (m *GetEarningsResponse) String() string { return fmt.Sprintf("%+v", *m) }
func (*GetEarningsResponse) ProtoMessage()     {}

// BackupStoreResponse reports where a requested offer/demand store backup
// landed on disk.
type BackupStoreResponse struct {
	Path string `protobuf:"bytes,1,opt,name=path"`
}

func (m *BackupStoreResponse) Reset()         { *m = BackupStoreResponse{} }
func (m *BackupStoreResponse) String() string { return fmt.Sprintf("%+v", *m) }
func (*BackupStoreResponse) ProtoMessage()     {}

// adminServer exposes operator introspection over the daemon's engines,
// mirroring cmd/lncli's thin RPC-backed admin surface.
type adminServer struct {
	engine    *payments.Engine
	boltStore *store.BoltStore
	backupDir string
}

func (s *adminServer) GetEarnings(ctx context.Context, req *Empty) (*GetEarningsResponse, error) {
	return &GetEarningsResponse{Earnings: s.engine.Earnings().String()}, nil
}

// BackupStore hot-copies the offer/demand bbolt database. Unavailable when
// the daemon was started with an in-memory store.
func (s *adminServer) BackupStore(ctx context.Context, req *Empty) (*BackupStoreResponse, error) {
	if s.boltStore == nil {
		return nil, fmt.Errorf("backup unavailable: store is in-memory")
	}
	path, err := s.boltStore.Backup(s.backupDir)
	if err != nil {
		return nil, err
	}
	return &BackupStoreResponse{Path: path}, nil
}

func _Admin_GetEarnings_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(*adminServer).GetEarnings(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/provideragent.Admin/GetEarnings"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(*adminServer).GetEarnings(ctx, req.(*Empty))
	}
	return interceptor(ctx, in, info, handler)
}

func _Admin_BackupStore_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(*adminServer).BackupStore(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/provideragent.Admin/BackupStore"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(*adminServer).BackupStore(ctx, req.(*Empty))
	}
	return interceptor(ctx, in, info, handler)
}

var adminServiceDesc = grpc.ServiceDesc{
	ServiceName: "provideragent.Admin",
	HandlerType: (*adminServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetEarnings", Handler: _Admin_GetEarnings_Handler},
		{MethodName: "BackupStore", Handler: _Admin_BackupStore_Handler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "admin.proto",
}
