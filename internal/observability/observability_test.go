package observability

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestUnaryServerInterceptor(t *testing.T) {
	tests := []struct {
		name    string
		method  string
		err     error
		wantErr bool
	}{
		{"health check", "/grpc.health.v1.Health/Check", nil, false},
		{"other call", "/grpc.reflection.v1.ServerReflection/Info", nil, false},
		{"failing call", "/grpc.health.v1.Health/Check", status.Error(codes.NotFound, "unknown service"), true},
	}

	interceptor := UnaryServerInterceptor()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := func(ctx context.Context, req interface{}) (interface{}, error) {
				return "resp", tt.err
			}

			resp, err := interceptor(context.Background(), "req", &grpc.UnaryServerInfo{FullMethod: tt.method}, handler)
			if (err != nil) != tt.wantErr {
				t.Fatalf("error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr && !errors.Is(err, tt.err) {
				t.Errorf("expected handler error to pass through, got %v", err)
			}
			if resp != "resp" {
				t.Errorf("expected handler response, got %v", resp)
			}
		})
	}
}

func TestServer_StartShutdown(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	s := NewServer("127.0.0.1:0", handler)

	if s.server.Handler == nil {
		t.Fatal("expected handler to be set")
	}
	if s.server.ReadTimeout != 5*time.Second {
		t.Errorf("expected read timeout 5s, got %v", s.server.ReadTimeout)
	}

	rec := httptest.NewRecorder()
	s.server.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusTeapot {
		t.Errorf("expected wrapped handler to serve, got %d", rec.Code)
	}

	s.Start()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.Shutdown(ctx); err != nil {
		t.Errorf("shutdown: %v", err)
	}
}
