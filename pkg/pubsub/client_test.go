package pubsub

import (
	"testing"

	"github.com/angelmondragon/farmcart-backend/pkg/config"
)

func TestResourceName(t *testing.T) {
	cases := []struct {
		kind, name, want string
	}{
		{"topics", "farmcart-payment-events", "projects/farmcart-dev/topics/farmcart-payment-events"},
		{"subscriptions", " analytics ", "projects/farmcart-dev/subscriptions/analytics"},
		{"topics", "projects/other/topics/x", "projects/other/topics/x"},
		{"topics", "", ""},
	}
	for _, tc := range cases {
		if got := ResourceName("farmcart-dev", tc.kind, tc.name); got != tc.want {
			t.Fatalf("ResourceName(%q, %q) = %q, want %q", tc.kind, tc.name, got, tc.want)
		}
	}
	if got := ResourceName("", "topics", "x"); got != "" {
		t.Fatalf("expected empty name without project, got %q", got)
	}
}

func TestTopicNamesSkipsBlank(t *testing.T) {
	names := topicNames(config.PubSubConfig{OrdersTopic: " orders ", PaymentsTopic: ""})
	if len(names) != 1 || names[0] != "orders" {
		t.Fatalf("unexpected topics %v", names)
	}
}

func TestClientOptionsPrefersJSON(t *testing.T) {
	opts := ClientOptions(config.GCPConfig{CredentialsJSON: `{"type":"service_account"}`, ApplicationCredentials: "/tmp/creds"})
	if len(opts) != 1 {
		t.Fatalf("expected 1 option, got %d", len(opts))
	}
	if opts := ClientOptions(config.GCPConfig{}); len(opts) != 0 {
		t.Fatalf("expected no options, got %d", len(opts))
	}
}
