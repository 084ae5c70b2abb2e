package models

import "testing"

func TestChatRequestSplit(t *testing.T) {
	req := ChatRequest{Messages: []Message{
		{Role: RoleUser, Content: "hi"},
		{Role: RoleAssistant, Content: "hello"},
		{Role: RoleUser, Content: "pair with salmon?"},
	}}
	history, last, err := req.Split()
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	if len(history) != 2 || last.Content != "pair with salmon?" {
		t.Fatalf("unexpected split: %v %v", history, last)
	}
}

func TestChatRequestSplitRejects(t *testing.T) {
	cases := map[string][]Message{
		"empty":          nil,
		"assistant last": {{Role: RoleUser, Content: "a"}, {Role: RoleAssistant, Content: "b"}},
		"blank":          {{Role: RoleUser, Content: "   "}},
		"system role":    {{Role: RoleSystem, Content: "x"}, {Role: RoleUser, Content: "y"}},
	}
	for name, msgs := range cases {
		t.Run(name, func(t *testing.T) {
			req := ChatRequest{Messages: msgs}
			if _, _, err := req.Split(); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}
