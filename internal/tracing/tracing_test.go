package tracing

import (
	"context"
	"testing"

	"github.com/nextlevelbuilder/aibot/internal/config"
)

func TestSetup_DisabledIsNoop(t *testing.T) {
	shutdown, err := Setup(context.Background(), config.TelemetryConfig{})
	if err != nil {
		t.Fatal(err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown: %v", err)
	}
}

func TestNewClient(t *testing.T) {
	tests := []struct {
		protocol string
		wantErr  bool
	}{
		{"", false},
		{"grpc", false},
		{"http", false},
		{"udp", true},
	}
	for _, tt := range tests {
		t.Run(tt.protocol, func(t *testing.T) {
			c, err := newClient(config.TelemetryConfig{Protocol: tt.protocol, Endpoint: "localhost:4317", Insecure: true})
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && c == nil {
				t.Error("nil client")
			}
		})
	}
}
