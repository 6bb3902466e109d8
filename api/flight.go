package api

import (
	"context"
	"net"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/flight"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/thomazyujibaba/ibarrow"
)

// FlightService serves query results over Arrow Flight. The ticket carries
// the SQL text; DoGet streams the result batch by batch, so memory stays
// bounded by the connection's batch size on the server side too.
type FlightService struct {
	flight.BaseFlightServer

	conn    *ibarrow.Connection
	metrics *Metrics

	srv flight.Server
}

// NewFlightService creates a Flight service over the given connection.
// metrics may be nil.
func NewFlightService(conn *ibarrow.Connection, metrics *Metrics) *FlightService {
	return &FlightService{conn: conn, metrics: metrics}
}

// Serve starts the Flight gRPC server on the listener (blocking).
func (s *FlightService) Serve(lis net.Listener) error {
	s.srv = flight.NewServerWithMiddleware(nil)
	s.srv.RegisterFlightService(s)
	s.srv.InitListener(lis)
	return s.srv.Serve()
}

// Shutdown stops the Flight server if it was started.
func (s *FlightService) Shutdown() {
	if s.srv != nil {
		s.srv.Shutdown()
	}
}

// GetFlightInfo answers a command descriptor with a single-endpoint info
// whose ticket is the command itself.
func (s *FlightService) GetFlightInfo(ctx context.Context, desc *flight.FlightDescriptor) (*flight.FlightInfo, error) {
	if desc.Type != flight.DescriptorCMD || len(desc.Cmd) == 0 {
		return nil, status.Error(codes.InvalidArgument, "expected a command descriptor carrying SQL")
	}
	return &flight.FlightInfo{
		FlightDescriptor: desc,
		Endpoint: []*flight.FlightEndpoint{{
			Ticket: &flight.Ticket{Ticket: desc.Cmd},
		}},
		TotalRecords: -1,
		TotalBytes:   -1,
	}, nil
}

// DoGet executes the SQL in the ticket and streams the result.
func (s *FlightService) DoGet(ticket *flight.Ticket, stream flight.FlightService_DoGetServer) error {
	query := string(ticket.GetTicket())
	if query == "" {
		return status.Error(codes.InvalidArgument, "empty ticket")
	}

	res, err := s.conn.Query(stream.Context(), query)
	if err != nil {
		s.recordStream("error")
		return flightStatus(err)
	}
	defer res.Close()

	schema := res.Schema()
	if schema == nil {
		schema = arrow.NewSchema([]arrow.Field{}, nil)
	}

	w := flight.NewRecordWriter(stream, ipc.WithSchema(schema))
	defer w.Close()

	for res.Next() {
		rec := res.Record()
		if s.metrics != nil {
			s.metrics.RecordBatch(int(rec.NumRows()))
		}
		if err := w.Write(rec); err != nil {
			s.recordStream("error")
			return status.Errorf(codes.Internal, "writing batch: %v", err)
		}
	}
	if err := res.Err(); err != nil {
		s.recordStream("error")
		return flightStatus(err)
	}
	s.recordStream("ok")
	return nil
}

func (s *FlightService) recordStream(outcome string) {
	if s.metrics != nil {
		s.metrics.RecordFlightStream(outcome)
	}
}

// flightStatus maps the library's error kinds onto gRPC status codes.
func flightStatus(err error) error {
	kind, ok := ibarrow.KindOf(err)
	if !ok {
		return status.Error(codes.Unknown, err.Error())
	}
	switch kind {
	case ibarrow.KindConnection:
		return status.Error(codes.Unavailable, err.Error())
	case ibarrow.KindQuery:
		return status.Error(codes.InvalidArgument, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}
