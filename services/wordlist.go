package services

import (
	"bufio"
	"bytes"
	"context"
	_ "embed"
	"fmt"
	"os"
	"path"
	"strings"

	"github.com/tidwall/gjson"
	"gopkg.in/yaml.v3"
)

//go:embed nicknamefilter.json
var bundledWordList []byte

// Word list formats understood by ParseWordList.
const (
	WordListJSON = "json"
	WordListYAML = "yaml"
	WordListText = "text"
)

// BundledTerms returns the raw terms of the block-list compiled into the binary.
func BundledTerms() []string {
	terms, err := ParseWordList(bundledWordList, WordListJSON)
	if err != nil {
		panic(fmt.Sprintf("bundled word list: %v", err))
	}
	return terms
}

// WordListFormat picks a format from the file extension of name.
func WordListFormat(name string) string {
	switch strings.ToLower(path.Ext(name)) {
	case ".json":
		return WordListJSON
	case ".yaml", ".yml":
		return WordListYAML
	default:
		return WordListText
	}
}

// ParseWordList extracts raw terms from data. JSON and YAML documents are
// either a list of strings or an object with a "terms" list; entries that
// are not strings are skipped. Text lists hold one term per line and lines
// starting with # are comments.
func ParseWordList(data []byte, format string) ([]string, error) {
	switch format {
	case WordListJSON:
		return parseJSONWordList(data)
	case WordListYAML:
		return parseYAMLWordList(data)
	case WordListText:
		return parseTextWordList(data)
	}
	return nil, fmt.Errorf("unknown word list format %q", format)
}

func parseJSONWordList(data []byte) ([]string, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("invalid JSON word list")
	}
	list := gjson.ParseBytes(data)
	if list.IsObject() {
		list = list.Get("terms")
	}
	if !list.IsArray() {
		return nil, fmt.Errorf("JSON word list must be an array of strings")
	}
	var terms []string
	list.ForEach(func(_, value gjson.Result) bool {
		if value.Type == gjson.String {
			terms = append(terms, value.Str)
		}
		return true
	})
	return terms, nil
}

func parseYAMLWordList(data []byte) ([]string, error) {
	var doc interface{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("invalid YAML word list: %w", err)
	}
	if m, ok := doc.(map[string]interface{}); ok {
		doc = m["terms"]
	}
	items, ok := doc.([]interface{})
	if !ok {
		return nil, fmt.Errorf("YAML word list must be a list of strings")
	}
	terms := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			terms = append(terms, s)
		}
	}
	return terms, nil
}

func parseTextWordList(data []byte) ([]string, error) {
	var terms []string
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		terms = append(terms, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read word list: %w", err)
	}
	return terms, nil
}

// LoadTerms reads raw terms from source: empty for the bundled list,
// s3://bucket/key for an object in S3-compatible storage, or a file path.
func LoadTerms(ctx context.Context, source string, s3 S3Config) ([]string, error) {
	switch {
	case source == "":
		return BundledTerms(), nil
	case strings.HasPrefix(source, "s3://"):
		bucket, key, ok := strings.Cut(strings.TrimPrefix(source, "s3://"), "/")
		if !ok || bucket == "" || key == "" {
			return nil, fmt.Errorf("invalid word list source %q", source)
		}
		data, err := fetchS3Object(ctx, s3, bucket, key)
		if err != nil {
			return nil, fmt.Errorf("fetch word list %s: %w", source, err)
		}
		return ParseWordList(data, WordListFormat(key))
	default:
		data, err := os.ReadFile(source)
		if err != nil {
			return nil, fmt.Errorf("read word list: %w", err)
		}
		return ParseWordList(data, WordListFormat(source))
	}
}

func fetchS3Object(ctx context.Context, cfg S3Config, bucket, key string) ([]byte, error) {
	cfg.Bucket = bucket
	st, err := newS3Storage(cfg)
	if err != nil {
		return nil, err
	}
	return st.Get(ctx, key)
}

// LoadBlockList builds the block-list for cfg: the terms of its source plus
// its extra terms.
func LoadBlockList(ctx context.Context, cfg NicknameConfig, s3 S3Config) (*BlockList, error) {
	terms, err := LoadTerms(ctx, cfg.BlocklistSource, s3)
	if err != nil {
		return nil, err
	}
	terms = append(terms, cfg.ExtraTerms...)
	bl := NewBlockList(terms)

	source := cfg.BlocklistSource
	if source == "" {
		source = "bundled"
	}
	Log.WithField("source", source).Infof("loaded %d block-list terms (%d raw)", bl.Len(), len(terms))
	return bl, nil
}
