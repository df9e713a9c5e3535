package email

import (
	"errors"
	"testing"
)

func TestAddressString(t *testing.T) {
	a := Address{Email: "jo@example.com", Name: "Jo Smith"}
	if got := a.String(); got != "Jo Smith <jo@example.com>" {
		t.Errorf("String() = %q", got)
	}

	bare := Address{Email: "jo@example.com"}
	if got := bare.String(); got != "jo@example.com" {
		t.Errorf("String() = %q", got)
	}
}

func TestAddressDomain(t *testing.T) {
	a := Address{Email: "jo@Example.COM"}
	if got := a.Domain(); got != "example.com" {
		t.Errorf("Domain() = %q", got)
	}
	if got := (Address{Email: "not-an-address"}).Domain(); got != "" {
		t.Errorf("Domain() = %q, want empty", got)
	}
}

func TestJoinAddresses(t *testing.T) {
	addrs := []Address{
		{Email: "a@example.com", Name: "A"},
		{Email: "b@example.com"},
	}
	want := "A <a@example.com>, b@example.com"
	if got := JoinAddresses(addrs); got != want {
		t.Errorf("JoinAddresses() = %q, want %q", got, want)
	}
}

func TestMessageValidate(t *testing.T) {
	msg := &Message{}
	if err := msg.Validate(); err == nil {
		t.Error("expected error for missing from")
	}

	msg.From = Address{Email: "sender@example.com"}
	if err := msg.Validate(); err == nil {
		t.Error("expected error for missing recipients")
	}

	msg.BCC = []Address{{Email: "rcpt@example.com"}}
	if err := msg.Validate(); err != nil {
		t.Errorf("Validate() = %v", err)
	}
}

func TestAllRecipientsOrder(t *testing.T) {
	msg := &Message{
		To:  []Address{{Email: "to@example.com"}},
		CC:  []Address{{Email: "cc@example.com"}},
		BCC: []Address{{Email: "bcc@example.com"}},
	}
	got := msg.AllRecipients()
	want := []string{"to@example.com", "cc@example.com", "bcc@example.com"}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i, w := range want {
		if got[i].Email != w {
			t.Errorf("recipient[%d] = %q, want %q", i, got[i].Email, w)
		}
	}
}

func TestClassifyStatus(t *testing.T) {
	cases := []struct {
		status int
		want   ErrorKind
	}{
		{401, ErrKindAuth},
		{403, ErrKindAuth},
		{400, ErrKindRejected},
		{422, ErrKindRejected},
		{500, ErrKindTransport},
		{503, ErrKindTransport},
	}
	for _, tc := range cases {
		if got := ClassifyStatus(tc.status); got != tc.want {
			t.Errorf("ClassifyStatus(%d) = %q, want %q", tc.status, got, tc.want)
		}
	}
}

func TestCapabilityErrorDetection(t *testing.T) {
	err := error(&CapabilityError{Provider: "resend", Feature: "merge_data"})
	if !IsCapabilityError(err) {
		t.Error("IsCapabilityError = false")
	}
	if IsCapabilityError(errors.New("other")) {
		t.Error("IsCapabilityError = true for plain error")
	}
	if want := "resend does not support merge_data"; err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestSendResultSetAllAndMerge(t *testing.T) {
	r := NewSendResult("sparkpost")
	r.SetAll([]Address{{Email: "a@example.com"}, {Email: "b@example.com"}}, "id-1", StatusQueued)

	other := NewSendResult("sparkpost")
	other.Recipients["b@example.com"] = RecipientStatus{Status: StatusRejected}
	r.Merge(other)

	if got := r.Recipients["a@example.com"].Status; got != StatusQueued {
		t.Errorf("a status = %q", got)
	}
	if got := r.Recipients["b@example.com"].Status; got != StatusRejected {
		t.Errorf("b status = %q", got)
	}
}
