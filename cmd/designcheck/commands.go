package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	designcheck "github.com/anatolykoptev/go-designcheck"
	"github.com/anatolykoptev/go-designcheck/internal/server"
	"github.com/anatolykoptev/go-designcheck/store"
	"github.com/spf13/cobra"
)

func (a *app) hashCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash FILE...",
		Short: "Print the fingerprint of each raster image",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := make([]server.FingerprintResponse, 0, len(args))
			for _, path := range args {
				resp := server.FingerprintResponse{Name: path}
				data, err := os.ReadFile(path)
				if err != nil {
					resp.Error = err.Error()
					out = append(out, resp)
					continue
				}
				info := designcheck.InspectImage(data)
				resp.Format, resp.Width, resp.Height = info.Format, info.Width, info.Height

				fp, err := a.engine.HashImage(data)
				if err != nil {
					resp.Error = err.Error()
				} else {
					resp.Fingerprint = fp.String()
					resp.Binary = fp.Binary()
					resp.Algorithm = fp.Algorithm().String()
				}
				out = append(out, resp)
			}
			return writeJSON(cmd.OutOrStdout(), out)
		},
	}
}

func (a *app) compareCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "compare A B",
		Short: "Compare two fingerprints or two image files",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			fa, err := a.fingerprintArg(args[0])
			if err != nil {
				return err
			}
			fb, err := a.fingerprintArg(args[1])
			if err != nil {
				return err
			}
			c, err := designcheck.Compare(fa, fb, a.cfg.Engine.Threshold)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), server.CompareResponse{
				Distance:   c.Distance,
				Similarity: c.Similarity,
				IsMatch:    c.IsMatch,
				Threshold:  a.cfg.Engine.Threshold,
			})
		},
	}
}

// fingerprintArg hashes arg when it names an existing file, otherwise
// parses it as a stored fingerprint.
func (a *app) fingerprintArg(arg string) (designcheck.Fingerprint, error) {
	if data, err := os.ReadFile(arg); err == nil {
		return a.engine.HashImage(data)
	}
	return designcheck.ParseFingerprint(arg)
}

func (a *app) dupesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dupes FILE...",
		Short: "Find near-duplicate images within one batch (first seen wins)",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			descs, err := readDescriptors(args)
			if err != nil {
				return err
			}
			report, err := a.engine.FindBatchDuplicates(cmd.Context(), descs, a.cfg.Engine.Threshold)
			if err != nil {
				return err
			}

			out := server.DuplicatesResponse{
				Pairs:         []server.PairResponse{},
				CorpusMatches: []server.CorpusMatchResponse{},
				Incomparable:  report.Incomparable,
			}
			fillHashes(&out, report.Hashes)
			for _, p := range report.Pairs {
				out.Pairs = append(out.Pairs, server.PairResponse{
					Original:   server.NewImageRef(p.Original),
					Duplicate:  server.NewImageRef(p.Duplicate),
					Distance:   p.Distance,
					Similarity: p.Similarity,
				})
			}
			return writeJSON(cmd.OutOrStdout(), out)
		},
	}
}

func (a *app) extractCmd() *cobra.Command {
	var (
		format string
		out    string
	)
	cmd := &cobra.Command{
		Use:   "extract RAW",
		Short: "Render the representative raster of a raw design file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			f, err := formatArg(format, args[0])
			if err != nil {
				return err
			}

			res := a.engine.ExtractRawContent(cmd.Context(), data, f)
			resp := server.ExtractResponse{Status: res.Status.String(), Format: string(res.Format), Reason: res.Reason}
			if res.OK() {
				b := res.Image.Bounds()
				resp.Width, resp.Height = b.Dx(), b.Dy()
				if out != "" {
					if err := os.WriteFile(out, res.Data, 0o644); err != nil {
						return err
					}
				}
			}
			return writeJSON(cmd.OutOrStdout(), resp)
		},
	}
	cmd.Flags().StringVar(&format, "format", "", "raw format (pdf, ai, svg, eps, cdr); default from extension")
	cmd.Flags().StringVarP(&out, "out", "o", "", "write the extracted PNG here")
	return cmd
}

func (a *app) validateCmd() *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "validate RAW PREVIEW...",
		Short: "Check that a raw design file matches one of its previews",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := formatArg(format, args[0])
			if err != nil {
				return err
			}
			v, err := a.engine.ValidateRawAgainstPreviews(cmd.Context(), args[0], f, args[1:], a.cfg.Engine.Threshold)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), server.NewVerdictResponse(v))
		},
	}
	cmd.Flags().StringVar(&format, "format", "", "raw format (pdf, ai, svg, eps, cdr); default from extension")
	return cmd
}

func (a *app) corpusCmd() *cobra.Command {
	corpus := &cobra.Command{
		Use:   "corpus",
		Short: "Store and query previously accepted submissions",
	}
	corpus.AddCommand(a.corpusAddCmd(), a.corpusCheckCmd())
	return corpus
}

func (a *app) corpusAddCmd() *cobra.Command {
	var rec store.Record
	cmd := &cobra.Command{
		Use:   "add --id ID FILE...",
		Short: "Fingerprint FILEs (primary first) and store them as one record",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := a.requireStore(cmd.Context())
			if err != nil {
				return err
			}
			defer st.Close(context.Background())

			rec.Fingerprints = nil
			for _, path := range args {
				data, err := os.ReadFile(path)
				if err != nil {
					return err
				}
				fp, err := a.engine.HashImage(data)
				if err != nil {
					return fmt.Errorf("%s: %w", path, err)
				}
				rec.Fingerprints = append(rec.Fingerprints, fp)
			}
			if err := st.Put(cmd.Context(), rec); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "stored %s (%d fingerprints)\n", rec.RecordID, len(rec.Fingerprints))
			return nil
		},
	}
	cmd.Flags().StringVar(&rec.RecordID, "id", "", "record id (required)")
	cmd.Flags().StringVar(&rec.OwnerID, "owner", "", "owner id")
	cmd.Flags().StringVar(&rec.Status, "status", "", "review status")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func (a *app) corpusCheckCmd() *cobra.Command {
	var filter designcheck.CorpusFilter
	cmd := &cobra.Command{
		Use:   "check FILE...",
		Short: "Compare FILEs against the stored corpus",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := a.requireStore(cmd.Context())
			if err != nil {
				return err
			}
			defer st.Close(context.Background())

			descs, err := readDescriptors(args)
			if err != nil {
				return err
			}
			report, err := a.engine.CheckCorpus(cmd.Context(), st, filter, descs, a.cfg.Engine.Threshold)
			if err != nil {
				return err
			}

			out := server.DuplicatesResponse{
				Pairs:            []server.PairResponse{},
				CorpusMatches:    []server.CorpusMatchResponse{},
				CorpusChecked:    true,
				CorpusIncomplete: report.Incomplete,
				CorpusReason:     report.Reason,
			}
			fillHashes(&out, report.Hashes)
			for _, m := range report.Matches {
				out.CorpusMatches = append(out.CorpusMatches, server.CorpusMatchResponse{
					Image:      server.NewImageRef(m.Fresh),
					RecordID:   m.RecordID,
					Slot:       m.Slot,
					Distance:   m.Distance,
					Similarity: m.Similarity,
				})
			}
			return writeJSON(cmd.OutOrStdout(), out)
		},
	}
	cmd.Flags().StringVar(&filter.OwnerID, "owner", "", "only records of this owner")
	cmd.Flags().StringSliceVar(&filter.Statuses, "status", nil, "only records in these statuses")
	cmd.Flags().StringVar(&filter.ExcludeRecordID, "exclude", "", "skip this record id")
	return cmd
}

func (a *app) serveCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.cfg.ValidateServe(); err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			st, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			if st != nil {
				defer st.Close(context.Background())
			}

			if addr == "" {
				addr = a.cfg.Server.Host + ":" + a.cfg.Server.Port
			}
			srv := server.New(server.Options{
				Engine:             a.engine,
				Store:              st,
				Threshold:          &a.cfg.Engine.Threshold,
				ReferenceThreshold: &a.cfg.Engine.ReferenceThreshold,
				MaxUploadBytes:     a.cfg.Server.MaxUploadBytes,
			})
			return srv.ListenAndServe(ctx, addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default host:port from config)")
	return cmd
}

// readDescriptors reads every path into a descriptor; design numbers follow
// argument order.
func readDescriptors(paths []string) ([]*designcheck.Descriptor, error) {
	descs := make([]*designcheck.Descriptor, len(paths))
	for i, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		descs[i] = &designcheck.Descriptor{
			ID:   designcheck.DescriptorID{Design: i + 1, Image: 1, Name: filepath.Base(path)},
			Data: data,
		}
	}
	return descs, nil
}

func fillHashes(out *server.DuplicatesResponse, hashes []designcheck.HashResult) {
	for _, h := range hashes {
		fr := server.FingerprintResponse{Name: h.ID.Name}
		if h.Err != nil {
			fr.Error = h.Err.Error()
			out.Failures = append(out.Failures, server.FailureResponse{Image: server.NewImageRef(h.ID), Error: h.Err.Error()})
		} else {
			fr.Fingerprint = h.Fingerprint.String()
			fr.Algorithm = h.Fingerprint.Algorithm().String()
		}
		out.Fingerprints = append(out.Fingerprints, fr)
	}
}

func formatArg(flag, path string) (designcheck.Format, error) {
	if flag != "" {
		return designcheck.ParseFormat(flag)
	}
	return designcheck.FormatFromPath(path)
}
