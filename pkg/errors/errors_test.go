package errors

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestError_Message(t *testing.T) {
	err := New(CodeMissingColumn, "Missing required columns").
		WithContext("columns", "contract_id")

	msg := err.Error()
	if !strings.Contains(msg, "E301") {
		t.Errorf("expected code in message, got %q", msg)
	}
	if !strings.Contains(msg, "Missing required columns") {
		t.Errorf("expected message text, got %q", msg)
	}
	if !strings.Contains(msg, "columns=contract_id") {
		t.Errorf("expected context in message, got %q", msg)
	}
}

func TestWrap_Nil(t *testing.T) {
	if Wrap(nil, CodeFetchFailed, "fetch") != nil {
		t.Error("wrapping nil should return nil")
	}
}

func TestWrap_Unwrap(t *testing.T) {
	cause := fmt.Errorf("connection reset")
	err := Wrap(cause, CodeDownloadFailed, "download failed")

	if !errors.Is(err, cause) {
		t.Error("errors.Is should find the cause through Unwrap")
	}
	if err.Error() != "[E202] download failed: connection reset" {
		t.Errorf("unexpected message: %q", err.Error())
	}
}

func TestIsCode(t *testing.T) {
	err := fmt.Errorf("outer: %w", MissingEnv("DLD_URL"))

	if !IsCode(err, CodeMissingEnv) {
		t.Error("IsCode should see through wrapping")
	}
	if IsCode(err, CodeTimeout) {
		t.Error("IsCode matched the wrong code")
	}
	if GetCode(errors.New("plain")) != CodeUnknown {
		t.Error("plain errors should map to CodeUnknown")
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		code Code
		want bool
	}{
		{CodeFetchFailed, true},
		{CodeDownloadFailed, true},
		{CodePublishFailed, true},
		{CodeTimeout, true},
		{CodeMissingColumn, false},
		{CodeMissingEnv, false},
		{CodeLinkNotFound, false},
	}

	for _, tt := range tests {
		if got := IsRetryable(New(tt.code, "x")); got != tt.want {
			t.Errorf("IsRetryable(%s) = %v, want %v", tt.code, got, tt.want)
		}
	}
}

func TestIsConfig(t *testing.T) {
	if !IsConfig(MissingEnv("GH_TOKEN")) {
		t.Error("MissingEnv should be a configuration error")
	}
	if IsConfig(New(CodeStoreQuery, "query failed")) {
		t.Error("store errors are not configuration errors")
	}
}
