package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Sternrassler/feedcache/internal/config"
	"github.com/Sternrassler/feedcache/pkg/cache"
	"github.com/Sternrassler/feedcache/pkg/render"
	"github.com/Sternrassler/feedcache/pkg/store"
)

func newCacheCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and clear the cache store",
	}
	cmd.AddCommand(newCacheClearCmd(opts), newCacheInspectCmd(opts), newCacheStatsCmd(opts))
	return cmd
}

func newCacheClearCmd(opts *rootOptions) *cobra.Command {
	var namespace, collection string

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove cached records",
		Long: "Without flags every namespace is cleared. --collection removes the item data " +
			"and rendered feeds of one collection, --namespace clears one namespace (data, content, image).",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if namespace != "" && collection != "" {
				return errors.New("--namespace and --collection are mutually exclusive")
			}
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			return withCache(cmd.Context(), cfg, func(ctx context.Context, cm *cache.Manager) error {
				out := cmd.OutOrStdout()
				switch {
				case collection != "":
					schema := schemaOf(cfg, collection)
					if err := cm.ClearFeedData(ctx, schema); err != nil {
						return err
					}
					if err := cm.ClearFeedContent(ctx, collection); err != nil {
						return err
					}
					fmt.Fprintf(out, "cleared collection %s (schema %s)\n", collection, schema)
				case namespace != "":
					ns, err := store.ParseNamespace(namespace)
					if err != nil {
						return err
					}
					if err := cm.ClearNamespace(ctx, ns); err != nil {
						return err
					}
					fmt.Fprintf(out, "cleared namespace %s\n", ns)
				default:
					if err := cm.ClearAll(ctx); err != nil {
						return err
					}
					fmt.Fprintln(out, "cleared all namespaces")
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&namespace, "namespace", "", "namespace to clear (data, content, image)")
	cmd.Flags().StringVar(&collection, "collection", "", "collection or schema whose feed data to clear")
	return cmd
}

func newCacheStatsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print the number of records per namespace",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			return withCache(cmd.Context(), cfg, func(ctx context.Context, cm *cache.Manager) error {
				stats, err := cm.Stats(ctx)
				if err != nil {
					return err
				}
				out := make(map[string]int, len(stats))
				for ns, n := range stats {
					out[string(ns)] = n
				}
				return writeYAML(cmd.OutOrStdout(), out)
			})
		},
	}
}

func newCacheInspectCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <collection>",
		Short: "Show the cached state of a collection as YAML",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			return withCache(cmd.Context(), cfg, func(ctx context.Context, cm *cache.Manager) error {
				report, err := inspect(ctx, cm, args[0], schemaOf(cfg, args[0]), time.Now())
				if err != nil {
					return err
				}
				return writeYAML(cmd.OutOrStdout(), report)
			})
		},
	}
}

type inspectReport struct {
	Collection string          `yaml:"collection"`
	Schema     string          `yaml:"schema"`
	Data       *dataReport     `yaml:"data,omitempty"`
	Contents   []contentReport `yaml:"contents,omitempty"`
}

type dataReport struct {
	Items     int       `yaml:"items"`
	Watermark time.Time `yaml:"watermark"`
	SavedAt   time.Time `yaml:"saved_at"`
	Expired   bool      `yaml:"expired"`
}

type contentReport struct {
	Format       string    `yaml:"format"`
	ContentType  string    `yaml:"content_type"`
	ETag         string    `yaml:"etag"`
	LastModified time.Time `yaml:"last_modified"`
	SavedAt      time.Time `yaml:"saved_at"`
	Bytes        int       `yaml:"bytes"`
	Expired      bool      `yaml:"expired"`
}

// inspect collects the item data of schema and the rendered feeds of
// collection regardless of expiry.
func inspect(ctx context.Context, cm *cache.Manager, collection, schema string, now time.Time) (*inspectReport, error) {
	report := &inspectReport{Collection: collection, Schema: schema}

	data, err := cm.GetFeedDataIgnoringExpiry(ctx, schema)
	switch {
	case err == nil:
		report.Data = &dataReport{
			Items:     len(data.Items),
			Watermark: time.Unix(data.LastProcessedTimestamp, 0).UTC(),
			SavedAt:   time.Unix(data.SavedAt, 0).UTC(),
			Expired:   data.IsExpired(cm.TTL(), now),
		}
	case !errors.Is(err, cache.ErrCacheMiss):
		return nil, err
	}

	for _, f := range render.Formats {
		entry, err := cm.GetFeedContentIgnoringExpiry(ctx, collection, string(f))
		if errors.Is(err, cache.ErrCacheMiss) {
			continue
		}
		if err != nil {
			return nil, err
		}
		report.Contents = append(report.Contents, contentReport{
			Format:       string(f),
			ContentType:  entry.ContentType,
			ETag:         entry.ETag,
			LastModified: entry.LastModifiedTime(),
			SavedAt:      time.Unix(entry.SavedAt, 0).UTC(),
			Bytes:        len(entry.Content),
			Expired:      entry.IsExpired(cm.TTL(), now),
		})
	}

	return report, nil
}

func withCache(ctx context.Context, cfg *config.Config, fn func(context.Context, *cache.Manager) error) error {
	st, err := store.Open(cfg.StoreConfig())
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()
	return fn(ctx, cache.NewManager(st, cfg.CacheConfig()))
}

// schemaOf maps a configured collection name to its schema. Unknown names are
// taken as schemas.
func schemaOf(cfg *config.Config, name string) string {
	if coll, ok := cfg.Collections[strings.ToLower(name)]; ok && coll.Schema != "" {
		return coll.Schema
	}
	return name
}

func writeYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}
