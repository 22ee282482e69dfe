package config

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rushteam/seqkit/core"
	"github.com/rushteam/seqkit/eval"
	"github.com/rushteam/seqkit/feature"
	"github.com/rushteam/seqkit/sampler"
	"github.com/rushteam/seqkit/schema"
	"github.com/rushteam/seqkit/sequence"
	"github.com/rushteam/seqkit/split"
)

const fullYAML = `
dataset: software
data_path: ./data
USER_ID_FIELD: user_id
ITEM_ID_FIELD: item_id
TIME_FIELD: timestamp
RATING_FIELD: rating
load_col:
  inter: [user_id, item_id, timestamp, rating]
  item: [item_id, item_emb, category]
TEXT_FIELDS: [category]
USER_FEATURES: [region]
numerical_field_list: [item_emb]
numerical_field_dims:
  item_emb: 384
field_preparation:
  inter:
    - {field: region, type: token, source: user}
MAX_ITEM_LIST_LENGTH: 20
eval_args:
  split: {RS: [0.8, 0.1, 0.1]}
  group_by: user
  order: TO
metrics: [Recall, MRR, NDCG, Hit, Precision]
topk: [5, 10]
valid_metric: NDCG@10
neg_sampling: {uniform: 3}
policy:
  join_miss: default
  first_position: skip
  short_history: exclude
  min_split_size: 1
  sampler_shortfall: fail
log: {level: debug, format: json}
`

func TestParse_Full(t *testing.T) {
	cfg, err := Parse([]byte(fullYAML))
	require.NoError(t, err)

	assert.Equal(t, "software", cfg.Dataset)
	assert.Equal(t, 20, cfg.MaxItemListLength)
	assert.Equal(t, IntList{5, 10}, cfg.TopK)
	assert.Equal(t, "\t", cfg.FieldSeparator, "default kept")

	k, err := cfg.SamplerK()
	require.NoError(t, err)
	assert.Equal(t, 3, k)

	p, err := cfg.Policies()
	require.NoError(t, err)
	assert.Equal(t, Policies{
		JoinMiss:      feature.MissDefault,
		DefaultToken:  feature.DefaultToken,
		FirstPosition: sequence.FirstSkip,
		ShortHistory:  split.ShortExclude,
		MinSplitSize:  1,
		Shortfall:     sampler.ShortfallFail,
	}, p)

	fc := cfg.FeatureConfig()
	assert.Equal(t, []string{"item_id", "item_emb", "category"}, fc.LoadColumns[schema.SourceItem])
	assert.Equal(t, 384, fc.NumericalDims["item_emb"])
	require.Len(t, fc.Preparations, 1)
	assert.Equal(t, "user", fc.Preparations[0].Source)
	assert.Equal(t, []string{"user_id", "item_id", "timestamp", "rating"}, cfg.LoadColumns(schema.SourceInteraction))
}

func TestParse_ScalarLists(t *testing.T) {
	cfg, err := Parse([]byte("dataset: x\nmetrics: NDCG\ntopk: 10\nvalid_metric: ndcg@10\n"))
	require.NoError(t, err)
	assert.Equal(t, StringList{"NDCG"}, cfg.Metrics)
	assert.Equal(t, IntList{10}, cfg.TopK)

	k, err := cfg.SamplerK()
	require.NoError(t, err)
	assert.Zero(t, k, "sampling disabled by default")
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"missing dataset", "MAX_ITEM_LIST_LENGTH: 5\n"},
		{"bad max len", "dataset: x\nMAX_ITEM_LIST_LENGTH: 0\n"},
		{"group by item", "dataset: x\neval_args: {group_by: item}\n"},
		{"random order", "dataset: x\neval_args: {order: RO}\n"},
		{"bad ratios", "dataset: x\neval_args: {split: {RS: [1]}}\n"},
		{"unknown metric", "dataset: x\nmetrics: [AUC]\n"},
		{"valid metric not configured", "dataset: x\nvalid_metric: NDCG@20\n"},
		{"sampler kind", "dataset: x\nneg_sampling: {popularity: 1}\n"},
		{"sampler k", "dataset: x\nneg_sampling: {uniform: 0}\n"},
		{"join policy", "dataset: x\npolicy: {join_miss: ignore}\n"},
		{"load_col file", "dataset: x\nload_col: {link: [a]}\n"},
		{"log level", "dataset: x\nlog: {level: loud}\n"},
		{"stopping step", "dataset: x\nstopping_step: -1\n"},
		{"source type", "dataset: x\nsources: {item: {type: kafka}}\n"},
		{"yaml", "dataset: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestConfig_Selector(t *testing.T) {
	cfg, err := Parse([]byte("dataset: x\nmetrics: [NDCG]\ntopk: [10]\nvalid_metric: NDCG@10\nstopping_step: 2\n"))
	require.NoError(t, err)

	sel, err := cfg.Selector()
	require.NoError(t, err)
	assert.Equal(t, eval.Key{Metric: eval.NDCG, K: 10}, sel.Key())

	report := func(v float64) *eval.Report {
		return &eval.Report{Values: map[string]float64{"ndcg@10": v}}
	}
	for i, want := range []struct{ improved, stop bool }{
		{true, false},
		{false, false},
		{false, true},
	} {
		improved, stop, err := sel.Observe(report(0.5))
		require.NoError(t, err)
		assert.Equal(t, want.improved, improved, "step %d", i)
		assert.Equal(t, want.stop, stop, "step %d", i)
	}
	step, best := sel.Best()
	assert.Equal(t, 0, step)
	assert.Equal(t, 0.5, best)

	d, err := Parse([]byte("dataset: x\n"))
	require.NoError(t, err)
	sel, err = d.Selector()
	require.NoError(t, err)
	assert.Equal(t, "mrr@10", sel.Key().String(), "defaults to MRR@10")
}

func TestLoadFromYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cfg.yaml")
	require.NoError(t, os.WriteFile(path, []byte("dataset: ml\ndata_path: "+dir+"\n"), 0o644))

	cfg, err := LoadFromYAML(path)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "ml", "ml.inter"), cfg.AtomicPath("inter"))

	require.NoError(t, os.MkdirAll(filepath.Join(dir, "ml"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ml", "ml.inter.zst"), nil, 0o644))
	assert.Equal(t, filepath.Join(dir, "ml", "ml.inter.zst"), cfg.AtomicPath("inter"))

	_, err = LoadFromYAML(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func itemSchema(t *testing.T) *schema.Schema {
	t.Helper()
	var raw []schema.RawField
	for _, d := range []string{"user_id:token", "item_id:token", "timestamp:float"} {
		rf, err := schema.ParseRawField(d, schema.SourceInteraction)
		require.NoError(t, err)
		raw = append(raw, rf)
	}
	s, err := schema.Validate(raw, schema.FeatureConfig{
		UserIDField:     "user_id",
		ItemIDField:     "item_id",
		TimeField:       "timestamp",
		TextFields:      []string{"category"},
		NumericalFields: []string{"price"},
		Preparations: []schema.Preparation{
			{Field: "category", Type: "token", Source: "item", List: true},
			{Field: "price", Type: "float", Source: "item"},
		},
	})
	require.NoError(t, err)
	return s
}

func TestBuildSource_Memory(t *testing.T) {
	cfg, err := Parse([]byte(`
dataset: x
sources:
  item:
    type: memory
    rows:
      i1: {category: [a, b], price: 9.5}
      i2: {category: [c], price: 1}
`))
	require.NoError(t, err)
	assert.False(t, cfg.UsesFile(schema.SourceItem))
	assert.True(t, cfg.UsesFile(schema.SourceUser))

	env := BuildEnv{Config: cfg, Schema: itemSchema(t), Origin: schema.SourceItem, IDField: "item_id"}
	src, err := BuildSource(context.Background(), cfg.SourceParams(schema.SourceItem), env)
	require.NoError(t, err)
	defer src.(io.Closer).Close()

	rows, err := src.Fetch(context.Background(), []string{"i1", "i2", "i3"})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, core.TokensValue("a", "b"), rows["i1"]["category"])
	assert.Equal(t, core.FloatValue(9.5), rows["i1"]["price"])
	assert.Equal(t, core.FloatValue(1), rows["i2"]["price"])
}

func TestBuildSource_Errors(t *testing.T) {
	env := BuildEnv{Schema: itemSchema(t), Origin: schema.SourceItem, IDField: "item_id"}

	_, err := BuildSource(context.Background(), nil, env)
	assert.Error(t, err, "file source without a loaded frame")

	_, err = BuildSource(context.Background(), map[string]any{"type": "redis"}, env)
	assert.Error(t, err, "redis without addr")

	_, err = BuildSource(context.Background(), map[string]any{"type": "feast"}, env)
	assert.Error(t, err, "feast without endpoint")

	_, err = BuildSource(context.Background(), map[string]any{"type": "nope"}, env)
	assert.Error(t, err)
}

func TestRegister(t *testing.T) {
	assert.Equal(t, []string{"feast", "file", "memory", "redis"}, SupportedTypes())

	Register("static", func(context.Context, map[string]any, BuildEnv) (feature.Source, error) {
		return feature.NewMapSource("static", nil), nil
	})
	t.Cleanup(func() {
		defaultBuildersMu.Lock()
		delete(defaultBuilders, "static")
		defaultBuildersMu.Unlock()
	})
	assert.True(t, IsRegistered("static"))
	src, err := BuildSource(context.Background(), map[string]any{"type": "static"}, BuildEnv{Origin: schema.SourceUser})
	require.NoError(t, err)
	assert.Equal(t, "static", src.Name())
}
