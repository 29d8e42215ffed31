package ingest

import "google.golang.org/grpc"

// LocationUpdate is one streamed position report from a telemetry unit.
type LocationUpdate struct {
	RouteId  string
	DriverId string
	Lat      float64
	Lng      float64
	Heading  float64
	Speed    float64
	Accuracy float64
	Ts       int64
}

// Ack is returned when the stream closes.
type Ack struct{}

// IngestServer defines the gRPC contract.
type IngestServer interface {
	StreamLocation(Ingest_StreamLocationServer) error
}

// RegisterIngestServer registers the service implementation.
func RegisterIngestServer(s *grpc.Server, srv IngestServer) {
	s.RegisterService(&grpc.ServiceDesc{
		ServiceName: "tracking.Ingest",
		HandlerType: (*IngestServer)(nil),
		Streams: []grpc.StreamDesc{{
			StreamName:    "StreamLocation",
			Handler:       _Ingest_StreamLocation_Handler,
			ServerStreams: true,
			ClientStreams: true,
		}},
	}, srv)
}

// Ingest_StreamLocationServer defines the bidi stream interface.
type Ingest_StreamLocationServer interface {
	grpc.ServerStream
	SendAndClose(*Ack) error
	Recv() (*LocationUpdate, error)
}

func _Ingest_StreamLocation_Handler(srv interface{}, stream grpc.ServerStream) error {
	return srv.(IngestServer).StreamLocation(&ingestStreamServer{ServerStream: stream})
}

type ingestStreamServer struct {
	grpc.ServerStream
}

func (s *ingestStreamServer) SendAndClose(*Ack) error { return nil }

func (s *ingestStreamServer) Recv() (*LocationUpdate, error) {
	msg := new(LocationUpdate)
	if err := s.ServerStream.RecvMsg(msg); err != nil {
		return nil, err
	}
	return msg, nil
}
