package resolver

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/attrgraph/sdk/attribute"
	"github.com/attrgraph/sdk/plugin"
)

// testPlugin builds a definition with the given dependencies whose
// evaluation emits one attribute under its own ID and counts invocations.
func countingDefinition(t *testing.T, id string, count *atomic.Int64, deps ...plugin.Dependency) plugin.Plugin {
	t.Helper()
	cfg := plugin.NewConfig()
	cfg.SetID(id)
	for _, d := range deps {
		cfg.AddDependency(d.PluginID, d.AttributeID)
	}
	cfg.SetEvaluate(func(ctx context.Context, req *plugin.Request, in plugin.Inputs) (*plugin.Output, error) {
		if count != nil {
			count.Add(1)
		}
		return plugin.NewOutput(attribute.New(id, attribute.String(id+"-value"))), nil
	})
	p, err := plugin.New(cfg)
	require.NoError(t, err)
	return p
}

func staticConnector(t *testing.T, id string, attrs ...attribute.Attribute) plugin.Connector {
	t.Helper()
	cfg := plugin.NewConfig()
	cfg.SetID(id)
	cfg.SetEvaluate(func(ctx context.Context, req *plugin.Request, in plugin.Inputs) (*plugin.Output, error) {
		if len(attrs) == 0 {
			return nil, nil
		}
		return plugin.NewOutput(attrs...), nil
	})
	c, err := plugin.NewConnector(cfg)
	require.NoError(t, err)
	return c
}

// configurable failing connector
func failingConnector(t *testing.T, id string, count *atomic.Int64, configure func(*plugin.Config)) plugin.Connector {
	t.Helper()
	cfg := plugin.NewConfig()
	cfg.SetID(id)
	cfg.SetEvaluate(func(ctx context.Context, req *plugin.Request, in plugin.Inputs) (*plugin.Output, error) {
		if count != nil {
			count.Add(1)
		}
		return nil, fmt.Errorf("backend unavailable")
	})
	if configure != nil {
		configure(cfg)
	}
	c, err := plugin.NewConnector(cfg)
	require.NoError(t, err)
	return c
}

func testRequest() *plugin.Request {
	return &plugin.Request{
		Principal: "jdoe",
		IdPID:     "https://idp.example.org",
		RPID:      "https://sp.example.org",
	}
}

func TestNew_RejectsDuplicateIDs(t *testing.T) {
	a := countingDefinition(t, "a", nil)
	b := countingDefinition(t, "a", nil)
	_, err := New(Config{Plugins: []plugin.Plugin{a, b}})
	require.ErrorIs(t, err, ErrDuplicatePlugin)
}

func TestNew_RejectsUnknownDependency(t *testing.T) {
	a := countingDefinition(t, "a", nil, plugin.Dependency{PluginID: "ghost"})
	_, err := New(Config{Plugins: []plugin.Plugin{a}})
	require.ErrorIs(t, err, ErrUnknownPlugin)
}

func TestNew_RejectsUnknownFailover(t *testing.T) {
	c := failingConnector(t, "c", nil, func(cfg *plugin.Config) {
		cfg.SetFailoverID("ghost")
	})
	_, err := New(Config{Plugins: []plugin.Plugin{c}})
	require.ErrorIs(t, err, ErrUnknownPlugin)
}

func TestNew_RejectsFailoverToDefinition(t *testing.T) {
	d := countingDefinition(t, "d", nil)
	c := failingConnector(t, "c", nil, func(cfg *plugin.Config) {
		cfg.SetFailoverID("d")
	})
	_, err := New(Config{Plugins: []plugin.Plugin{c, d}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a connector")
}

func TestNew_RejectsCycle(t *testing.T) {
	a := countingDefinition(t, "a", nil, plugin.Dependency{PluginID: "b"})
	b := countingDefinition(t, "b", nil, plugin.Dependency{PluginID: "a"})
	_, err := New(Config{Plugins: []plugin.Plugin{a, b}})
	require.ErrorIs(t, err, ErrCycle)
}

func TestNew_RejectsIndirectCycle(t *testing.T) {
	a := countingDefinition(t, "a", nil, plugin.Dependency{PluginID: "b"})
	b := countingDefinition(t, "b", nil, plugin.Dependency{PluginID: "c"})
	c := countingDefinition(t, "c", nil, plugin.Dependency{PluginID: "a"})
	_, err := New(Config{Plugins: []plugin.Plugin{a, b, c}})
	require.ErrorIs(t, err, ErrCycle)
}

func TestResolve_MemoizesSharedDependency(t *testing.T) {
	var sourceCount atomic.Int64
	source := countingDefinition(t, "source", &sourceCount)
	left := countingDefinition(t, "left", nil, plugin.Dependency{PluginID: "source"})
	right := countingDefinition(t, "right", nil, plugin.Dependency{PluginID: "source"})
	top := countingDefinition(t, "top", nil,
		plugin.Dependency{PluginID: "left"},
		plugin.Dependency{PluginID: "right"},
		plugin.Dependency{PluginID: "source"},
	)

	r, err := New(Config{Plugins: []plugin.Plugin{source, left, right, top}})
	require.NoError(t, err)

	_, err = r.Resolve(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, int64(1), sourceCount.Load(), "shared dependency must evaluate exactly once per request")

	// A second request gets a fresh work context and re-evaluates.
	_, err = r.Resolve(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, int64(2), sourceCount.Load())
}

func TestResolve_AbsentDependencyDoesNotShortCircuit(t *testing.T) {
	absentCfg := plugin.NewConfig()
	absentCfg.SetID("absent")
	absentCfg.SetEvaluate(func(ctx context.Context, req *plugin.Request, in plugin.Inputs) (*plugin.Output, error) {
		return nil, nil
	})
	absent, err := plugin.New(absentCfg)
	require.NoError(t, err)

	var sawInputs plugin.Inputs
	depCfg := plugin.NewConfig()
	depCfg.SetID("dependent")
	depCfg.AddDependency("absent", "")
	depCfg.SetEvaluate(func(ctx context.Context, req *plugin.Request, in plugin.Inputs) (*plugin.Output, error) {
		sawInputs = in
		return plugin.NewOutput(attribute.New("dependent", attribute.String("ran"))), nil
	})
	dependent, err := plugin.New(depCfg)
	require.NoError(t, err)

	r, err := New(Config{Plugins: []plugin.Plugin{absent, dependent}})
	require.NoError(t, err)

	set, err := r.Resolve(context.Background(), testRequest())
	require.NoError(t, err)

	require.NotNil(t, sawInputs, "dependent plugin must still execute")
	assert.Empty(t, sawInputs, "absent dependency contributes empty input")
	_, ok := set.Get("dependent")
	assert.True(t, ok)
	_, ok = set.Get("absent")
	assert.False(t, ok, "absent plugin must not appear in the released set")
}

func TestResolve_NarrowedDependencySelectsOneAttribute(t *testing.T) {
	conn := staticConnector(t, "directory",
		attribute.New("uid", attribute.String("jdoe")),
		attribute.New("mail", attribute.String("jdoe@example.org")),
	)

	var sawInputs plugin.Inputs
	cfg := plugin.NewConfig()
	cfg.SetID("def")
	cfg.AddDependency("directory", "uid")
	cfg.SetEvaluate(func(ctx context.Context, req *plugin.Request, in plugin.Inputs) (*plugin.Output, error) {
		sawInputs = in
		return nil, nil
	})
	def, err := plugin.New(cfg)
	require.NoError(t, err)

	r, err := New(Config{Plugins: []plugin.Plugin{conn, def}})
	require.NoError(t, err)

	_, err = r.Resolve(context.Background(), testRequest())
	require.NoError(t, err)

	assert.Len(t, sawInputs.Values("uid"), 1)
	assert.Nil(t, sawInputs.Values("mail"), "narrowed dependency must filter other attributes")
}

func TestResolve_RequestedSubset(t *testing.T) {
	var aCount, bCount atomic.Int64
	a := countingDefinition(t, "a", &aCount)
	b := countingDefinition(t, "b", &bCount)

	r, err := New(Config{Plugins: []plugin.Plugin{a, b}})
	require.NoError(t, err)

	set, err := r.Resolve(context.Background(), testRequest(), "a")
	require.NoError(t, err)

	_, ok := set.Get("a")
	assert.True(t, ok)
	_, ok = set.Get("b")
	assert.False(t, ok)
	assert.Equal(t, int64(0), bCount.Load(), "unrequested definition must not evaluate")
}

func TestResolve_UnknownRequestedID(t *testing.T) {
	a := countingDefinition(t, "a", nil)
	r, err := New(Config{Plugins: []plugin.Plugin{a}})
	require.NoError(t, err)

	_, err = r.Resolve(context.Background(), testRequest(), "ghost")
	require.ErrorIs(t, err, ErrUnknownPlugin)
}

func TestResolve_ConditionSkipsEvaluation(t *testing.T) {
	var count atomic.Int64
	cfg := plugin.NewConfig()
	cfg.SetID("gated")
	require.NoError(t, cfg.SetCondition(`rp_id == "https://other.example.org"`))
	cfg.SetEvaluate(func(ctx context.Context, req *plugin.Request, in plugin.Inputs) (*plugin.Output, error) {
		count.Add(1)
		return plugin.NewOutput(attribute.New("gated", attribute.String("x"))), nil
	})
	gated, err := plugin.New(cfg)
	require.NoError(t, err)

	r, err := New(Config{Plugins: []plugin.Plugin{gated}})
	require.NoError(t, err)

	set, err := r.Resolve(context.Background(), testRequest())
	require.NoError(t, err)

	assert.Equal(t, int64(0), count.Load(), "false condition must skip evaluation entirely")
	assert.Empty(t, set)
}

func TestResolve_DefinitionFailureDowngradesToAbsent(t *testing.T) {
	cfg := plugin.NewConfig()
	cfg.SetID("broken")
	cfg.SetEvaluate(func(ctx context.Context, req *plugin.Request, in plugin.Inputs) (*plugin.Output, error) {
		return nil, errors.New("boom")
	})
	broken, err := plugin.New(cfg)
	require.NoError(t, err)
	ok := countingDefinition(t, "ok", nil)

	r, err := New(Config{Plugins: []plugin.Plugin{broken, ok}})
	require.NoError(t, err)

	set, err := r.Resolve(context.Background(), testRequest())
	require.NoError(t, err, "one failing plugin must not fail the request")
	_, present := set.Get("ok")
	assert.True(t, present)
	_, present = set.Get("broken")
	assert.False(t, present)
}

func TestResolve_FailoverSubstitution(t *testing.T) {
	var primaryCount atomic.Int64
	backup := staticConnector(t, "backup", attribute.New("uid", attribute.String("fallback")))
	primary := failingConnector(t, "primary", &primaryCount, func(cfg *plugin.Config) {
		cfg.SetFailoverID("backup")
	})
	def := countingDefinition(t, "def", nil, plugin.Dependency{PluginID: "primary"})

	r, err := New(Config{Plugins: []plugin.Plugin{primary, backup, def}})
	require.NoError(t, err)

	wc := newWorkContext()
	o := r.resolveNode(context.Background(), wc, testRequest(), "primary")
	require.False(t, o.absent, "failover result must substitute for the failing connector")
	require.Len(t, o.attrs, 1)
	assert.Equal(t, "uid", o.attrs[0].ID)
	assert.Equal(t, []string{"fallback"}, o.attrs[0].TextValues())
	assert.Equal(t, int64(1), primaryCount.Load())
}

func TestResolve_NoFailoverMeansAbsent(t *testing.T) {
	primary := failingConnector(t, "primary", nil, nil)
	def := countingDefinition(t, "def", nil, plugin.Dependency{PluginID: "primary"})

	r, err := New(Config{Plugins: []plugin.Plugin{primary, def}})
	require.NoError(t, err)

	set, err := r.Resolve(context.Background(), testRequest())
	require.NoError(t, err)
	_, ok := set.Get("def")
	assert.True(t, ok, "dependent still runs with empty input")
}

// unavailableConnector fails every evaluation with a backing-system-down
// error, the way a stored-identifier connector reports an unreachable store.
func unavailableConnector(t *testing.T, id string, configure func(*plugin.Config)) plugin.Connector {
	t.Helper()
	cfg := plugin.NewConfig()
	cfg.SetID(id)
	cfg.SetEvaluate(func(ctx context.Context, req *plugin.Request, in plugin.Inputs) (*plugin.Output, error) {
		return nil, fmt.Errorf("connector %q: %w: dial tcp: connection refused", id, plugin.ErrUnavailable)
	})
	if configure != nil {
		configure(cfg)
	}
	c, err := plugin.NewConnector(cfg)
	require.NoError(t, err)
	return c
}

func TestResolve_UnavailableWithoutFailoverFailsRequest(t *testing.T) {
	primary := unavailableConnector(t, "primary", nil)
	def := countingDefinition(t, "def", nil, plugin.Dependency{PluginID: "primary"})

	r, err := New(Config{Plugins: []plugin.Plugin{primary, def}})
	require.NoError(t, err)

	set, err := r.Resolve(context.Background(), testRequest())
	require.ErrorIs(t, err, plugin.ErrUnavailable,
		"an unreachable backing system with no failover must fail the request, not downgrade to absence")
	assert.Nil(t, set)
}

func TestResolve_UnavailableWithFailoverSubstitutes(t *testing.T) {
	backup := staticConnector(t, "backup", attribute.New("uid", attribute.String("fallback")))
	primary := unavailableConnector(t, "primary", func(cfg *plugin.Config) {
		cfg.SetFailoverID("backup")
	})
	def := countingDefinition(t, "def", nil, plugin.Dependency{PluginID: "primary", AttributeID: "uid"})

	r, err := New(Config{Plugins: []plugin.Plugin{primary, backup, def}})
	require.NoError(t, err)

	set, err := r.Resolve(context.Background(), testRequest())
	require.NoError(t, err, "a failover absorbs the unavailable connector")
	uid, ok := set.Get("uid")
	require.True(t, ok)
	assert.Equal(t, []string{"fallback"}, uid.TextValues())
}

func TestResolve_BreakerWindowWithoutFailoverStaysFailed(t *testing.T) {
	primary := unavailableConnector(t, "primary", func(cfg *plugin.Config) {
		cfg.SetNoRetryInterval(time.Hour)
	})
	def := countingDefinition(t, "def", nil, plugin.Dependency{PluginID: "primary"})

	r, err := New(Config{Plugins: []plugin.Plugin{primary, def}})
	require.NoError(t, err)

	_, err = r.Resolve(context.Background(), testRequest())
	require.ErrorIs(t, err, plugin.ErrUnavailable)

	// Inside the no-retry window the connector is still unavailable.
	_, err = r.Resolve(context.Background(), testRequest())
	require.ErrorIs(t, err, plugin.ErrUnavailable)
}

func TestResolve_BreakerSkipsRecentlyFailedConnector(t *testing.T) {
	var primaryCount atomic.Int64
	backup := staticConnector(t, "backup", attribute.New("uid", attribute.String("fallback")))
	primary := failingConnector(t, "primary", &primaryCount, func(cfg *plugin.Config) {
		cfg.SetFailoverID("backup")
		cfg.SetNoRetryInterval(time.Hour)
	})
	def := countingDefinition(t, "def", nil, plugin.Dependency{PluginID: "primary"})

	r, err := New(Config{Plugins: []plugin.Plugin{primary, backup, def}})
	require.NoError(t, err)

	_, err = r.Resolve(context.Background(), testRequest())
	require.NoError(t, err)
	require.Equal(t, int64(1), primaryCount.Load())

	// Within the window the failing connector is not re-invoked.
	_, err = r.Resolve(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, int64(1), primaryCount.Load())

	// Once the window passes, the connector is tried again.
	r.breaker.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	_, err = r.Resolve(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, int64(2), primaryCount.Load())
}

func TestResolve_ConnectorTimeout(t *testing.T) {
	backup := staticConnector(t, "backup", attribute.New("uid", attribute.String("fallback")))

	slowCfg := plugin.NewConfig()
	slowCfg.SetID("slow")
	slowCfg.SetFailoverID("backup")
	slowCfg.SetTimeout(10 * time.Millisecond)
	slowCfg.SetEvaluate(func(ctx context.Context, req *plugin.Request, in plugin.Inputs) (*plugin.Output, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(5 * time.Second):
			return plugin.NewOutput(attribute.New("uid", attribute.String("too-late"))), nil
		}
	})
	slow, err := plugin.NewConnector(slowCfg)
	require.NoError(t, err)

	def := countingDefinition(t, "def", nil, plugin.Dependency{PluginID: "slow", AttributeID: "uid"})

	r, err := New(Config{Plugins: []plugin.Plugin{slow, backup, def}})
	require.NoError(t, err)

	wc := newWorkContext()
	o := r.resolveNode(context.Background(), wc, testRequest(), "slow")
	require.False(t, o.absent)
	assert.Equal(t, []string{"fallback"}, o.attrs[0].TextValues())
}

func TestResolve_ConcurrentRequestsAreIndependent(t *testing.T) {
	var sourceCount atomic.Int64
	source := countingDefinition(t, "source", &sourceCount)
	left := countingDefinition(t, "left", nil, plugin.Dependency{PluginID: "source"})
	right := countingDefinition(t, "right", nil, plugin.Dependency{PluginID: "source"})

	r, err := New(Config{Plugins: []plugin.Plugin{source, left, right}})
	require.NoError(t, err)

	const requests = 32
	var wg sync.WaitGroup
	for i := 0; i < requests; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			set, err := r.Resolve(context.Background(), testRequest())
			assert.NoError(t, err)
			assert.Len(t, set, 3)
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(requests), sourceCount.Load(), "exactly one evaluation per request")
}

func TestResolve_NilRequest(t *testing.T) {
	a := countingDefinition(t, "a", nil)
	r, err := New(Config{Plugins: []plugin.Plugin{a}})
	require.NoError(t, err)

	_, err = r.Resolve(context.Background(), nil)
	require.Error(t, err)
}
