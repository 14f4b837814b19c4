//go:build ignore

// Package main generates a synthetic knowledge base for benchmarking.
// Usage: go run scripts/generate-test-dataset.go -entries 5000 -output testdata/bench/knowledge.yaml
package main

import (
	"flag"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"
)

var (
	numEntries = flag.Int("entries", 1000, "Number of entries to generate")
	outputPath = flag.String("output", "testdata/bench/knowledge.yaml", "Output file")
	seed       = flag.Int64("seed", 42, "Random seed for reproducibility")
)

type tag struct {
	ID       int64    `yaml:"id"`
	Name     string   `yaml:"name"`
	Synonyms []string `yaml:"synonyms,omitempty"`
}

type entry struct {
	ID             int64    `yaml:"id"`
	MainCategory   string   `yaml:"main_category"`
	SubCategory    string   `yaml:"sub_category"`
	DetailCategory string   `yaml:"detail_category,omitempty"`
	Question       string   `yaml:"question"`
	Answer         string   `yaml:"answer"`
	IsTemplate     bool     `yaml:"is_template,omitempty"`
	Usage          string   `yaml:"usage,omitempty"`
	Tags           []string `yaml:"tags,omitempty"`
}

type busyPeriod struct {
	Year        int    `yaml:"year"`
	Start       string `yaml:"start"`
	End         string `yaml:"end"`
	Description string `yaml:"description"`
}

type dataset struct {
	Tags        []tag        `yaml:"tags"`
	Entries     []entry      `yaml:"entries"`
	BusyPeriods []busyPeriod `yaml:"busy_periods"`
}

var tags = []tag{
	{1, "キャンセル", []string{"取消", "取り消し", "キャンセル料"}},
	{2, "営業時間", []string{"営業", "開場時間", "利用時間"}},
	{3, "予約", []string{"予約方法", "申し込み", "申込"}},
	{4, "料金", []string{"値段", "費用", "価格", "駐車料金"}},
	{5, "支払い", []string{"決済", "クレジットカード", "支払方法"}},
	{6, "送迎", []string{"シャトル", "送迎バス"}},
	{7, "国際線", []string{"国際便"}},
	{8, "車両", []string{"車種", "大型車"}},
}

var categories = map[string][]string{
	"予約関連":  {"予約", "キャンセル", "変更"},
	"料金関連":  {"料金", "支払い", "領収書"},
	"利用の流れ": {"営業時間", "入庫", "出庫"},
	"送迎":    {"送迎バス", "集合場所"},
	"その他":   {"苦情", "忘れ物", "車両"},
}

var subjects = []string{"キャンセル", "予約", "料金", "支払い", "送迎", "入庫", "出庫", "領収書", "車種", "国際線"}
var asks = []string{"方法", "いつまで", "いくら", "可能", "時間", "場所", "必要", "変更"}
var usages = []string{"fully-usable", "fully-usable", "conditional", "unusable"}

func main() {
	flag.Parse()
	rng := rand.New(rand.NewSource(*seed))

	mains := make([]string, 0, len(categories))
	for m := range categories {
		mains = append(mains, m)
	}
	sort.Strings(mains)

	ds := dataset{Tags: tags}
	for i := 1; i <= *numEntries; i++ {
		mainCat := mains[rng.Intn(len(mains))]
		subs := categories[mainCat]
		subject := subjects[rng.Intn(len(subjects))]
		ask := asks[rng.Intn(len(asks))]

		e := entry{
			ID:           int64(i),
			MainCategory: mainCat,
			SubCategory:  subs[rng.Intn(len(subs))],
			Question:     fmt.Sprintf("%s %s %d", subject, ask, i),
			Answer:       fmt.Sprintf("%sの%sについてのご案内です（No.%d）。", subject, ask, i),
			IsTemplate:   rng.Intn(3) == 0,
			Usage:        usages[rng.Intn(len(usages))],
		}
		if rng.Intn(2) == 0 {
			e.DetailCategory = ask
		}
		for _, t := range tags {
			if rng.Intn(len(tags)) == 0 {
				e.Tags = append(e.Tags, t.Name)
			}
		}
		ds.Entries = append(ds.Entries, e)
	}
	ds.BusyPeriods = []busyPeriod{
		{2025, "2025-04-26", "2025-05-06", "ゴールデンウィーク"},
		{2025, "2025-08-09", "2025-08-18", "お盆"},
		{2025, "2025-12-27", "2025-12-31", "年末"},
	}

	if err := os.MkdirAll(filepath.Dir(*outputPath), 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "Error creating output directory: %v\n", err)
		os.Exit(1)
	}
	data, err := yaml.Marshal(&ds)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error encoding dataset: %v\n", err)
		os.Exit(1)
	}
	if err := os.WriteFile(*outputPath, data, 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing %s: %v\n", *outputPath, err)
		os.Exit(1)
	}
	fmt.Printf("Generated %d entries in %s\n", *numEntries, *outputPath)
}
