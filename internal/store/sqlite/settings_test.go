package sqlite

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/nextlevelbuilder/aibot/internal/store"
)

func openTestStore(t *testing.T) *SettingsStore {
	t.Helper()
	s, err := New(context.Background(), filepath.Join(t.TempDir(), "settings.db"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSettingsStore_SetGetDelete(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	guild := store.Guild("100")

	if _, ok, err := s.Get(ctx, guild, "reply_percent"); err != nil || ok {
		t.Fatalf("Get on empty store = %v, %v", ok, err)
	}
	if err := s.Set(ctx, guild, "reply_percent", json.RawMessage(`0.25`)); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := s.Set(ctx, guild, "reply_percent", json.RawMessage(`0.75`)); err != nil {
		t.Fatalf("Set overwrite: %v", err)
	}
	v, ok, err := s.Get(ctx, guild, "reply_percent")
	if err != nil || !ok || string(v) != "0.75" {
		t.Fatalf("Get = %s, %v, %v", v, ok, err)
	}

	if err := s.Delete(ctx, guild, "reply_percent"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok, _ := s.Get(ctx, guild, "reply_percent"); ok {
		t.Error("deleted key still present")
	}
}

func TestSettingsStore_RejectsBadInput(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	tests := []struct {
		name  string
		scope store.Scope
		value string
	}{
		{"role without target", store.Scope{Kind: store.KindRole, GuildID: "1"}, `1`},
		{"guild without id", store.Scope{Kind: store.KindGuild}, `1`},
		{"invalid json", store.Global(), `{nope`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := s.Set(ctx, tt.scope, "k", json.RawMessage(tt.value)); err == nil {
				t.Error("Set accepted bad input")
			}
		})
	}
}

func TestSettingsStore_LoadManyAndScopes(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	s.Set(ctx, store.Channel("1", "c1"), "reply_percent", json.RawMessage(`1`))
	s.Set(ctx, store.Channel("1", "c2"), "reply_percent", json.RawMessage(`0`))
	s.Set(ctx, store.Guild("1"), "channels", json.RawMessage(`["c1"]`))

	got, err := s.LoadMany(ctx, []store.Scope{store.Guild("1"), store.Channel("1", "c1"), store.Channel("1", "c9")})
	if err != nil {
		t.Fatalf("LoadMany: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("LoadMany returned %d scopes, want 2: %v", len(got), got)
	}
	if string(got[store.Guild("1")]["channels"]) != `["c1"]` {
		t.Errorf("guild values = %v", got[store.Guild("1")])
	}

	scopes, err := s.Scopes(ctx, store.KindChannel)
	if err != nil {
		t.Fatalf("Scopes: %v", err)
	}
	if len(scopes) != 2 || scopes[0].TargetID != "c1" || scopes[1].TargetID != "c2" {
		t.Errorf("channel scopes = %+v", scopes)
	}
}

func TestSettingsStore_ClearMember(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	s.Set(ctx, store.Member("1", "u"), "reply_percent", json.RawMessage(`0.1`))
	s.Set(ctx, store.Member("2", "u"), "reply_percent", json.RawMessage(`0.2`))
	s.Set(ctx, store.Member("1", "other"), "reply_percent", json.RawMessage(`0.3`))

	n, err := s.ClearMember(ctx, "u")
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("removed %d keys, want 2", n)
	}
	if _, ok, _ := s.Get(ctx, store.Member("1", "other"), "reply_percent"); !ok {
		t.Error("other member's settings were removed")
	}
}
