package settings

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/nextlevelbuilder/aibot/internal/store"
	"github.com/nextlevelbuilder/aibot/internal/store/file"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	st, err := file.NewSettingsStore("")
	if err != nil {
		t.Fatalf("NewSettingsStore: %v", err)
	}
	return New(st, StockDefaults())
}

func ptr[T any](v T) *T { return &v }

func TestResolvePercentage_Precedence(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t)
	const guild = "g1"
	target := Target{GuildID: guild, ChannelID: "c1", RoleIDs: []string{"r1", "r2"}, MemberID: "m1"}

	if got := s.ResolvePercentage(ctx, target); got != 0.5 {
		t.Fatalf("default percent = %v, want 0.5", got)
	}

	steps := []struct {
		scope store.Scope
		pct   float64
	}{
		{store.Guild(guild), 0.1},
		{store.Channel(guild, "c1"), 0.2},
		{store.Role(guild, "r2"), 0.3},
		{store.Member(guild, "m1"), 0.4},
	}
	for _, st := range steps {
		if err := s.SetReplyPercent(ctx, st.scope, ptr(st.pct)); err != nil {
			t.Fatalf("SetReplyPercent(%s): %v", st.scope, err)
		}
		// Each more specific scope must win as soon as it is set.
		if got := s.ResolvePercentage(ctx, target); got != st.pct {
			t.Fatalf("after setting %s: percent = %v, want %v", st.scope, got, st.pct)
		}
	}

	// Clearing the member override falls back to the role.
	if err := s.SetReplyPercent(ctx, store.Member(guild, "m1"), nil); err != nil {
		t.Fatal(err)
	}
	if got := s.ResolvePercentage(ctx, target); got != 0.3 {
		t.Errorf("after clearing member: percent = %v, want 0.3", got)
	}
}

func TestResolvePercentage_FirstRoleWithValue(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t)
	s.SetReplyPercent(ctx, store.Role("g", "r2"), ptr(0.9))
	s.SetReplyPercent(ctx, store.Role("g", "r3"), ptr(0.1))

	got := s.ResolvePercentage(ctx, Target{GuildID: "g", ChannelID: "c", RoleIDs: []string{"r1", "r2", "r3"}, MemberID: "m"})
	if got != 0.9 {
		t.Errorf("percent = %v, want 0.9 from the first role that sets one", got)
	}
}

func TestSetReplyPercent_Validation(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t)
	if err := s.SetReplyPercent(ctx, store.Guild("g"), nil); err == nil {
		t.Error("guild percent without value should fail")
	}
	if err := s.SetReplyPercent(ctx, store.Guild("g"), ptr(1.5)); err == nil {
		t.Error("percent above 1 should fail")
	}
}

func TestResolvePrompt_Precedence(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t)
	target := Target{GuildID: "g", ChannelID: "c", MemberID: "m"}

	if got := s.ResolvePrompt(ctx, target); got != DefaultPrompt {
		t.Fatalf("prompt = %q, want default", got)
	}
	s.SetPrompt(ctx, store.Global(), ptr("global"))
	if got := s.ResolvePrompt(ctx, target); got != "global" {
		t.Fatalf("prompt = %q, want global", got)
	}
	s.SetPrompt(ctx, store.Guild("g"), ptr("guild"))
	s.SetPrompt(ctx, store.Channel("g", "c"), ptr("channel"))
	if got := s.ResolvePrompt(ctx, target); got != "channel" {
		t.Fatalf("prompt = %q, want channel", got)
	}
	s.SetPrompt(ctx, store.Member("g", "m"), ptr("member"))
	if got := s.ResolvePrompt(ctx, target); got != "member" {
		t.Fatalf("prompt = %q, want member", got)
	}
}

func TestGuildSnapshot_InvalidatedOnWrite(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t)

	snap, err := s.Guild(ctx, "g")
	if err != nil {
		t.Fatal(err)
	}
	if snap.ChannelsWhitelist.Has("c1") {
		t.Fatal("fresh guild should have empty whitelist")
	}
	if again, _ := s.Guild(ctx, "g"); again != snap {
		t.Error("second read should hit the cached snapshot")
	}

	added, err := s.AddChannel(ctx, "g", "c1")
	if err != nil || !added {
		t.Fatalf("AddChannel = %v, %v", added, err)
	}
	if added, _ := s.AddChannel(ctx, "g", "c1"); added {
		t.Error("adding twice should report no change")
	}

	snap, _ = s.Guild(ctx, "g")
	if !snap.ChannelsWhitelist.Has("c1") {
		t.Error("snapshot not refreshed after AddChannel")
	}

	if err := s.SetIgnoreRegex(ctx, "g", "^!"); err != nil {
		t.Fatal(err)
	}
	snap, _ = s.Guild(ctx, "g")
	if snap.IgnoreRegex == nil || !snap.IgnoreRegex.MatchString("!cmd") {
		t.Error("ignore regex not compiled into snapshot")
	}
	if err := s.SetIgnoreRegex(ctx, "g", "(unclosed"); err == nil {
		t.Error("invalid regex should be rejected")
	}
}

func TestSnapshot_MalformedValuesFallBack(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t)
	st := s.Store()
	st.Set(ctx, store.Guild("g"), KeyBackread, json.RawMessage(`"ten"`))
	st.Set(ctx, store.Guild("g"), KeyAlwaysReplyOnWords, json.RawMessage(`[" Hello ", ""]`))

	snap, err := s.Guild(ctx, "g")
	if err != nil {
		t.Fatal(err)
	}
	if snap.MessagesBackread != 10 {
		t.Errorf("backread = %d, want default 10", snap.MessagesBackread)
	}
	if len(snap.AlwaysReplyOnWords) != 1 || snap.AlwaysReplyOnWords[0] != "hello" {
		t.Errorf("keywords = %q", snap.AlwaysReplyOnWords)
	}
}

func TestOptInOptOut(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t)

	if changed, err := s.OptIn(ctx, "u"); err != nil || !changed {
		t.Fatalf("OptIn = %v, %v", changed, err)
	}
	gl, _ := s.Global(ctx)
	if !gl.Consents(nil, "u") {
		t.Fatal("opted-in user should consent")
	}

	s.OptOut(ctx, "u")
	gl, _ = s.Global(ctx)
	if gl.OptIn.Has("u") || !gl.OptOut.Has("u") {
		t.Fatalf("after OptOut: optin=%v optout=%v", gl.OptIn, gl.OptOut)
	}

	g := &GuildSnapshot{OptinByDefault: true}
	if gl.Consents(g, "u") {
		t.Error("opt-out must win over opt-in-by-default")
	}
	if !gl.Consents(g, "someone-else") {
		t.Error("opt-in-by-default should admit users without an explicit choice")
	}
}

func TestUpdateList_ConcurrentWritersDoNotLoseUpdates(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s.AddChannel(ctx, "g", fmt.Sprintf("c%d", i))
		}(i)
	}
	wg.Wait()

	snap, _ := s.Guild(ctx, "g")
	if len(snap.ChannelsWhitelist) != 20 {
		t.Errorf("whitelist has %d channels, want 20", len(snap.ChannelsWhitelist))
	}
}

func TestClearMember(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t)
	target := Target{GuildID: "g", ChannelID: "c", MemberID: "m"}

	s.SetReplyPercent(ctx, store.Member("g", "m"), ptr(1.0))
	if got := s.ResolvePercentage(ctx, target); got != 1.0 {
		t.Fatalf("percent = %v", got)
	}
	if err := s.ClearMember(ctx, "m"); err != nil {
		t.Fatal(err)
	}
	if got := s.ResolvePercentage(ctx, target); got != 0.5 {
		t.Errorf("percent after ClearMember = %v, want 0.5", got)
	}
}

func TestSetDefaults_RebuildsSnapshots(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t)
	snap, _ := s.Guild(ctx, "g")
	if snap.MinLength != 2 {
		t.Fatalf("min length = %d", snap.MinLength)
	}
	d := StockDefaults()
	d.MinLength = 5
	s.SetDefaults(d)
	snap, _ = s.Guild(ctx, "g")
	if snap.MinLength != 5 {
		t.Errorf("min length after SetDefaults = %d, want 5", snap.MinLength)
	}
}

func TestSnapshots_PickUpWritesFromAnotherProcess(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "settings.json")
	open := func() *Service {
		st, err := file.NewSettingsStore(path)
		if err != nil {
			t.Fatal(err)
		}
		return New(st, StockDefaults())
	}

	serving := open()
	clock := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	serving.now = func() time.Time { return clock }
	serving.SetRefreshInterval(time.Minute)

	target := Target{GuildID: "g1", ChannelID: "c1", MemberID: "m1"}
	g, err := serving.Guild(ctx, "g1")
	if err != nil || g.ChannelsWhitelist.Has("c1") {
		t.Fatalf("initial snapshot = %+v, %v", g, err)
	}
	serving.ResolvePercentage(ctx, target) // caches the member scope

	admin := open()
	if _, err := admin.AddChannel(ctx, "g1", "c1"); err != nil {
		t.Fatal(err)
	}
	if _, err := admin.OptOut(ctx, "m1"); err != nil {
		t.Fatal(err)
	}
	if err := admin.SetReplyPercent(ctx, store.Member("g1", "m1"), ptr(0.9)); err != nil {
		t.Fatal(err)
	}

	// A write in the serving process must not drop the admin's writes.
	if err := serving.SetRateLimitReset(ctx, "2024-06-01 12:05:00"); err != nil {
		t.Fatal(err)
	}

	clock = clock.Add(2 * time.Minute)
	g, err = serving.Guild(ctx, "g1")
	if err != nil || !g.ChannelsWhitelist.Has("c1") {
		t.Errorf("expired snapshot not reloaded: whitelist = %v, %v", g.ChannelsWhitelist, err)
	}
	gl, err := serving.Global(ctx)
	if err != nil || !gl.OptOut.Has("m1") || gl.RateLimitReset != "2024-06-01 12:05:00" {
		t.Errorf("global snapshot = %+v, %v", gl, err)
	}
	if got := serving.ResolvePercentage(ctx, target); got != 0.9 {
		t.Errorf("member percent = %v, want 0.9", got)
	}
}

func TestInvalidate_DropsSnapshots(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t)
	s.SetRefreshInterval(0)

	g, _ := s.Guild(ctx, "g1")
	if err := s.Store().Set(ctx, store.Guild("g1"), KeyChannelsWhitelist, json.RawMessage(`["c9"]`)); err != nil {
		t.Fatal(err)
	}
	if again, _ := s.Guild(ctx, "g1"); again != g {
		t.Fatal("snapshot rebuilt without invalidation")
	}

	s.Invalidate()
	g, _ = s.Guild(ctx, "g1")
	if !g.ChannelsWhitelist.Has("c9") {
		t.Errorf("whitelist after Invalidate = %v", g.ChannelsWhitelist)
	}
}
