package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"jobmate/recommender-service/internal/feed"
	"jobmate/recommender-service/internal/model"
	"jobmate/recommender-service/internal/normalize"
	"jobmate/recommender-service/internal/recommend"
)

var recommendFlags struct {
	resume       string
	resumeFile   string
	postingsFile string
	profile      string
	limit        int
}

var recommendCmd = &cobra.Command{
	Use:   "recommend",
	Short: "Rank stored (or file-supplied) postings against a resume",
	Args:  cobra.NoArgs,
	RunE:  runRecommend,
}

func init() {
	f := recommendCmd.Flags()
	f.StringVar(&recommendFlags.resume, "resume", "", "resume text")
	f.StringVar(&recommendFlags.resumeFile, "resume-file", "", "read the resume text from a file")
	f.StringVar(&recommendFlags.postingsFile, "postings-file", "", "score postings from a JSON file instead of the store")
	f.StringVar(&recommendFlags.profile, "profile", "", "apply a stored profile's preferences")
	f.IntVar(&recommendFlags.limit, "limit", 10, "maximum number of results (0 = all)")
	recommendCmd.MarkFlagsMutuallyExclusive("resume", "resume-file")
	rootCmd.AddCommand(recommendCmd)
}

func runRecommend(cmd *cobra.Command, _ []string) error {
	req := recommend.Request{
		ResumeText: recommendFlags.resume,
		ProfileID:  recommendFlags.profile,
		Limit:      recommendFlags.limit,
	}
	if recommendFlags.resumeFile != "" {
		b, err := os.ReadFile(recommendFlags.resumeFile)
		if err != nil {
			return fmt.Errorf("read resume: %w", err)
		}
		req.ResumeText = string(b)
	}
	if req.ResumeText == "" {
		return errors.New("one of --resume or --resume-file is required")
	}
	if recommendFlags.postingsFile != "" {
		raws, err := readPostingsFile(recommendFlags.postingsFile)
		if err != nil {
			return err
		}
		req.Postings = raws
	}

	return withApp(cmd, func(a *app) error {
		resp, err := a.svc.Recommend(cmd.Context(), req)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), resp)
	})
}

// readPostingsFile accepts the same shapes as an inline source payload.
func readPostingsFile(path string) ([]model.RawPosting, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read postings: %w", err)
	}
	items, err := feed.Parse(b)
	if err != nil {
		return nil, err
	}
	raws := make([]model.RawPosting, 0, len(items))
	for i, item := range items {
		raw, err := normalize.Decode(item)
		if err != nil {
			return nil, fmt.Errorf("postings[%d]: %w", i, err)
		}
		raws = append(raws, raw)
	}
	return raws, nil
}
