package api

import (
	"context"
	"encoding/json"
	"fmt"
	"math"

	"tourbook/internal/domain"
	"tourbook/internal/models"
	"tourbook/internal/service"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	availabilityServiceName = "tourbook.v1.AvailabilityService"

	methodGetAvailability      = "/" + availabilityServiceName + "/GetAvailability"
	methodGetAvailabilityRange = "/" + availabilityServiceName + "/GetAvailabilityRange"
	methodListTours            = "/" + availabilityServiceName + "/ListTours"
)

// AvailabilityServer is the read-only gRPC view of the catalogue. Messages
// are google.protobuf.Struct values carrying the same fields as the REST
// responses.
type AvailabilityServer interface {
	GetAvailability(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetAvailabilityRange(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListTours(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

var availabilityServiceDesc = grpc.ServiceDesc{
	ServiceName: availabilityServiceName,
	HandlerType: (*AvailabilityServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetAvailability", Handler: unaryHandler(methodGetAvailability, AvailabilityServer.GetAvailability)},
		{MethodName: "GetAvailabilityRange", Handler: unaryHandler(methodGetAvailabilityRange, AvailabilityServer.GetAvailabilityRange)},
		{MethodName: "ListTours", Handler: unaryHandler(methodListTours, AvailabilityServer.ListTours)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "tourbook/v1/availability.proto",
}

func RegisterAvailabilityServer(s grpc.ServiceRegistrar, srv AvailabilityServer) {
	s.RegisterService(&availabilityServiceDesc, srv)
}

type structMethod func(AvailabilityServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(fullMethod string, call structMethod) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(AvailabilityServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(AvailabilityServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

type availabilityServer struct {
	availability *service.AvailabilityService
	tours        *service.TourService
}

func NewAvailabilityServer(availability *service.AvailabilityService, tours *service.TourService) AvailabilityServer {
	return &availabilityServer{availability: availability, tours: tours}
}

func (s *availabilityServer) GetAvailability(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	tourID, err := structInt(req, "tour_id")
	if err != nil {
		return nil, grpcError(err)
	}
	guests, err := structInt(req, "guests")
	if err != nil {
		return nil, grpcError(err)
	}
	if guests == 0 {
		guests = 1
	}

	check, err := s.availability.Check(ctx, tourID, structString(req, "date"), int(guests))
	if err != nil {
		return nil, grpcError(err)
	}
	return toStruct(newAvailabilityResponse(check))
}

func (s *availabilityServer) GetAvailabilityRange(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	tourID, err := structInt(req, "tour_id")
	if err != nil {
		return nil, grpcError(err)
	}
	days, err := structInt(req, "days")
	if err != nil {
		return nil, grpcError(err)
	}

	result, err := s.availability.Range(ctx, tourID, service.RangeQuery{
		Start: structString(req, "start_date"),
		End:   structString(req, "end_date"),
		Days:  int(days),
	})
	if err != nil {
		return nil, grpcError(err)
	}
	return toStruct(newRangeResponse(result))
}

func (s *availabilityServer) ListTours(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	merchantID, err := structInt(req, "merchant_id")
	if err != nil {
		return nil, grpcError(err)
	}
	if p, ok := PrincipalFrom(ctx); ok && p.Role == models.RoleMerchant {
		merchantID = p.MerchantID
	}

	tours, err := s.tours.List(ctx, merchantID, true)
	if err != nil {
		return nil, grpcError(err)
	}
	out := make([]tourResponse, 0, len(tours))
	for _, t := range tours {
		out = append(out, newTourResponse(t))
	}
	return toStruct(map[string]any{"tours": out})
}

func structString(s *structpb.Struct, key string) string {
	if s == nil {
		return ""
	}
	return s.GetFields()[key].GetStringValue()
}

// structInt reads a whole number field. Missing fields read as zero.
func structInt(s *structpb.Struct, key string) (int64, error) {
	if s == nil {
		return 0, nil
	}
	v, ok := s.GetFields()[key]
	if !ok || v == nil {
		return 0, nil
	}
	if _, isNull := v.GetKind().(*structpb.Value_NullValue); isNull {
		return 0, nil
	}
	n, isNum := v.GetKind().(*structpb.Value_NumberValue)
	if !isNum {
		return 0, domain.ValidationError{Field: key, Msg: "must be a number"}
	}
	if n.NumberValue != math.Trunc(n.NumberValue) || math.Abs(n.NumberValue) > 1<<53 {
		return 0, domain.ValidationError{Field: key, Msg: "must be a whole number"}
	}
	return int64(n.NumberValue), nil
}

func toStruct(v any) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, grpcError(fmt.Errorf("encode response: %w", err))
	}
	out := &structpb.Struct{}
	if err := out.UnmarshalJSON(raw); err != nil {
		return nil, grpcError(fmt.Errorf("encode response: %w", err))
	}
	return out, nil
}

// AvailabilityClient calls the availability service over an existing
// connection.
type AvailabilityClient struct {
	conn grpc.ClientConnInterface
}

func NewAvailabilityClient(conn grpc.ClientConnInterface) *AvailabilityClient {
	return &AvailabilityClient{conn: conn}
}

func (c *AvailabilityClient) GetAvailability(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, methodGetAvailability, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *AvailabilityClient) GetAvailabilityRange(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, methodGetAvailabilityRange, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *AvailabilityClient) ListTours(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, methodListTours, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
