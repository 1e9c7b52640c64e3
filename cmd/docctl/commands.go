package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"doc-rag/internal/app"
	"doc-rag/internal/chunker"
	"doc-rag/internal/extractor"
	"doc-rag/internal/ingest"
	"doc-rag/internal/queue"
	"doc-rag/internal/retriever"
	"doc-rag/internal/summarizer"
)

func newChunkCmd() *cobra.Command {
	var (
		policy chunker.Policy
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "chunk [file]",
		Short: "Print the chunks of a local file",
		Long: `Extracts a local PDF, text or markdown file without any external
service and prints the chunks the given policy produces.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read file: %w", err)
			}
			text, err := extractor.NewLocal().Extract(cmd.Context(), extractor.File{
				Name:        filepath.Base(args[0]),
				ContentType: contentTypeOf(args[0]),
				Data:        data,
			})
			if err != nil {
				return err
			}
			chunks, err := chunker.ChunkText(text.Text, policy)
			if err != nil {
				return err
			}
			for i := range chunks {
				chunks[i].Metadata = map[string]any{"page": text.PageAt(chunks[i].Start)}
			}

			out := cmd.OutOrStdout()
			if asJSON {
				return writeJSON(out, chunks)
			}
			fmt.Fprintf(out, "%d chunks (size %d, overlap %d)\n", len(chunks), policy.Size, policy.Overlap)
			for _, c := range chunks {
				fmt.Fprintf(out, "\n[%d] start=%d length=%d overlap=%d page=%v\n%s\n", c.Ordinal, c.Start, c.Length, c.Overlap, c.Metadata["page"], c.Text)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&policy.Size, "size", 1000, "chunk size in characters")
	cmd.Flags().IntVar(&policy.Overlap, "overlap", 200, "characters shared by consecutive chunks")
	cmd.Flags().BoolVar(&asJSON, "json", false, "output chunks as JSON")
	return cmd
}

func newIngestCmd(build buildFunc) *cobra.Command {
	var (
		size, overlap int
		uploader      string
	)
	cmd := &cobra.Command{
		Use:   "ingest [file]",
		Short: "Ingest a local file and wait for it to be indexed",
		Long: `Stores the file as a new document and runs extraction, chunking,
embedding and indexing in process. Stage failures are not retried.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			deps, err := build(app.NeedStore | app.NeedVectors | app.NeedCache | app.NeedEmbedder | app.NeedExtractor)
			if err != nil {
				return err
			}
			defer deps.Close()

			policy := deps.DefaultPolicy()
			if cmd.Flags().Changed("size") {
				policy.Size = size
			}
			if cmd.Flags().Changed("overlap") {
				policy.Overlap = overlap
			}

			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("failed to open file: %w", err)
			}
			defer f.Close()

			q := queue.NewMemory(deps.Log)
			coord := ingest.New(ingest.Deps{
				Documents: deps.Store,
				Extractor: deps.Extractor,
				Embedder:  deps.Embedder,
				Vectors:   deps.Vectors,
				Queue:     q,
				Cache:     deps.Cache,
			}, ingest.Options{
				UploadDir:         deps.Config.UploadDir,
				ExtractionTimeout: deps.Config.ExtractionTimeout,
				EmbeddingTimeout:  deps.Config.EmbeddingTimeout,
				IndexTimeout:      deps.Config.VectorStoreTimeout,
				MaxAttempts:       1,
			}, deps.Log)

			ctx := cmd.Context()
			doc, err := coord.Submit(ctx, ingest.Upload{
				Filename:    filepath.Base(args[0]),
				ContentType: contentTypeOf(args[0]),
				Uploader:    uploader,
				Content:     f,
				Policy:      policy,
			})
			if err != nil {
				return err
			}
			runErr := q.Drain(ctx, queue.TaskTypeIngest, coord.Handle)

			doc, err = deps.Store.GetDocument(ctx, doc.ID)
			if err != nil {
				return err
			}
			printDocument(cmd.OutOrStdout(), doc.ID, string(doc.Status), string(doc.FailedStage), doc.Error)
			if runErr != nil {
				return fmt.Errorf("ingestion failed: %w", runErr)
			}
			chunks, err := deps.Store.ListChunks(ctx, doc.ID)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "chunks:      %d\nmodel:       %s\n", len(chunks), doc.EmbeddingModel)
			return nil
		},
	}
	cmd.Flags().IntVar(&size, "size", 0, "chunk size in characters (default from CHUNK_SIZE)")
	cmd.Flags().IntVar(&overlap, "overlap", 0, "chunk overlap in characters (default from CHUNK_OVERLAP)")
	cmd.Flags().StringVar(&uploader, "uploader", os.Getenv("USER"), "uploader recorded on the document")
	return cmd
}

func newAskCmd(build buildFunc) *cobra.Command {
	var (
		docs   []string
		topK   int
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Answer a question from the indexed documents",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q := retriever.Query{Question: strings.TrimSpace(args[0]), TopK: topK}
			if q.Question == "" {
				return errors.New("question must not be empty")
			}
			for _, s := range docs {
				id, err := uuid.Parse(s)
				if err != nil {
					return fmt.Errorf("invalid document id %q: %w", s, err)
				}
				q.DocumentIDs = append(q.DocumentIDs, id)
			}

			deps, err := build(app.NeedVectors | app.NeedEmbedder | app.NeedLLM | app.NeedCache)
			if err != nil {
				return err
			}
			defer deps.Close()

			answer, err := deps.Orchestrator().Answer(cmd.Context(), q)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				return writeJSON(out, answer)
			}
			fmt.Fprintln(out, answer.Text)
			if len(answer.Retrieval.Hits) > 0 {
				fmt.Fprintln(out, "\nSources:")
				for i, h := range answer.Retrieval.Hits {
					fmt.Fprintf(out, "  [%d] %s", i+1, h.Source())
					if p := h.Page(); p > 0 {
						fmt.Fprintf(out, " (page %d)", p)
					}
					fmt.Fprintf(out, " %.2f\n", h.Score)
				}
			}
			if len(answer.Dropped) > 0 {
				fmt.Fprintf(out, "\n%d retrieved chunks did not fit the context budget\n", len(answer.Dropped))
			}
			if answer.Cached {
				fmt.Fprintln(out, "(cached)")
			}
			return nil
		},
	}
	cmd.Flags().StringSliceVarP(&docs, "doc", "d", nil, "restrict retrieval to these document ids")
	cmd.Flags().IntVarP(&topK, "top-k", "k", 0, "number of chunks to retrieve (default from RETRIEVAL_TOP_K)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "output the answer as JSON")
	return cmd
}

func newSummarizeCmd(build buildFunc) *cobra.Command {
	var mode string
	cmd := &cobra.Command{
		Use:   "summarize [document-id]",
		Short: "Summarize an extracted document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid document id: %w", err)
			}
			m, err := summarizer.ParseMode(mode)
			if err != nil {
				return err
			}

			deps, err := build(app.NeedStore | app.NeedLLM)
			if err != nil {
				return err
			}
			defer deps.Close()

			sum, err := deps.Summarizer().SummarizeDocument(cmd.Context(), id, m)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, sum.Text)
			if len(sum.KeyPoints) > 0 {
				fmt.Fprintln(out, "\nKey points:")
				for _, p := range sum.KeyPoints {
					fmt.Fprintf(out, "  - %s\n", p)
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&mode, "mode", "m", string(summarizer.ModeBrief), "summary mode: brief, detailed or executive")
	return cmd
}

func newStatusCmd(build buildFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "status [document-id]",
		Short: "Show the processing status of a document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid document id: %w", err)
			}
			deps, err := build(app.NeedStore)
			if err != nil {
				return err
			}
			defer deps.Close()

			doc, err := deps.Store.GetDocument(cmd.Context(), id)
			if err != nil {
				return err
			}
			printDocument(cmd.OutOrStdout(), doc.ID, string(doc.Status), string(doc.FailedStage), doc.Error)
			fmt.Fprintf(cmd.OutOrStdout(), "filename:    %s\nupdated:     %s\n", doc.Filename, doc.UpdatedAt.Format("2006-01-02 15:04:05"))
			return nil
		},
	}
}

func printDocument(out io.Writer, id uuid.UUID, status, stage, reason string) {
	fmt.Fprintf(out, "document:    %s\nstatus:      %s\n", id, status)
	if stage != "" {
		fmt.Fprintf(out, "failed at:   %s\nerror:       %s\n", stage, reason)
	}
}

func contentTypeOf(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".md" {
		return "text/markdown"
	}
	ct, _, _ := strings.Cut(mime.TypeByExtension(ext), ";")
	return ct
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
