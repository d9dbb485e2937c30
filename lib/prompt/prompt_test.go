// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package prompt

import (
	"errors"
	"reflect"
	"testing"

	"github.com/bureau-foundation/passagent/lib/slot"
)

// tickets issues distinct handles for tests.
func tickets(count int) []slot.Handle {
	var table slot.Table[struct{}]
	handles := make([]slot.Handle, count)
	for index := range handles {
		handles[index] = table.Insert(struct{}{})
	}
	return handles
}

func TestRequestLines(t *testing.T) {
	tests := []struct {
		name    string
		kind    Kind
		request Request
		want    []string
	}{
		{
			name: "default prompt",
			kind: Passphrase,
			want: []string{"Passphrase:"},
		},
		{
			name:    "full passphrase",
			kind:    Passphrase,
			request: Request{Prompt: "PIN:", Description: "Unlock card", ErrorMessage: "Wrong PIN"},
			want:    []string{"Wrong PIN", "Unlock card", "PIN:"},
		},
		{
			name:    "repeat without message",
			kind:    Passphrase,
			request: Request{Repeat: true},
			want:    []string{"Bad passphrase, try again.", "Passphrase:"},
		},
		{
			name:    "authorization default",
			kind:    Authorization,
			request: Request{KeyID: "k1", Prompt: "ignored"},
			want:    []string{"Allow use of the cached passphrase for k1?"},
		},
		{
			name:    "authorization with description",
			kind:    Authorization,
			request: Request{KeyID: "k1", Description: "Sign commit?"},
			want:    []string{"Sign commit?"},
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if got := test.request.Lines(test.kind); !reflect.DeepEqual(got, test.want) {
				t.Errorf("Lines = %q, want %q", got, test.want)
			}
		})
	}
}

func TestTrackerSinglePrompt(t *testing.T) {
	handles := tickets(2)
	var active tracker

	cancelled := false
	if err := active.begin(handles[0], func() { cancelled = true }); err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := active.begin(handles[1], func() {}); !errors.Is(err, ErrBusy) {
		t.Fatalf("second begin = %v, want ErrBusy", err)
	}

	if active.close(handles[1]) {
		t.Error("close of an inactive ticket reported active")
	}
	if !active.close(handles[0]) {
		t.Error("close of the active ticket reported inactive")
	}
	if !cancelled {
		t.Error("close did not cancel the prompt")
	}
	if active.finish(handles[0]) {
		t.Error("finish after close reported the ticket still active")
	}
	if err := active.begin(handles[1], func() {}); err != nil {
		t.Errorf("begin after close: %v", err)
	}
}
