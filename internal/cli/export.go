package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ppiankov/archeck/internal/config"
	"github.com/ppiankov/archeck/internal/policy"
)

var (
	exportARN     string
	exportID      string
	exportVersion string
	outputDir     string
	policyName    string
	noTags        bool
)

// exportCmd represents the export command
var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export an automated reasoning policy as a CloudFormation template",
	Long: `Export downloads a policy version and writes three files: the raw export
(JSON) and a CloudFormation template in JSON and YAML that recreates it.

Without --policy-arn or --policy-id the policies of the region are listed and
one is chosen interactively.

Example:
  archeck export
  archeck export --policy-id abc123 --version 1 --output-dir ./templates
  archeck export --policy-arn arn:aws:bedrock:us-east-1:123456789012:automated-reasoning-policy/abc123/1`,
	Args: cobra.NoArgs,
	RunE: runExport,
}

func init() {
	rootCmd.AddCommand(exportCmd)

	exportCmd.Flags().StringVar(&exportARN, "policy-arn", "", "ARN of the policy version to export")
	exportCmd.Flags().StringVar(&exportID, "policy-id", "", "ID of the policy to export")
	exportCmd.Flags().StringVar(&exportVersion, "version", "", "policy version to export with --policy-id (default: listed version)")
	exportCmd.Flags().StringVar(&outputDir, "output-dir", "exported_policies", "directory for the exported files")
	exportCmd.Flags().StringVar(&policyName, "policy-name", "", "policy name used in the template (default: exported name)")
	exportCmd.Flags().BoolVar(&noTags, "no-tags", false, "do not export resource tags")

	exportCmd.MarkFlagsMutuallyExclusive("policy-arn", "policy-id")
}

func runExport(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig(config.LoadOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	if exportVersion != "" && exportID == "" {
		return errors.New("--version requires --policy-id")
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	awsCfg, err := loadAWS(ctx, cfg)
	if err != nil {
		return err
	}
	svc := policy.NewService(policy.NewControlAPI(awsCfg), logger)
	out := cmd.OutOrStdout()

	arn, opts, ok, err := resolveExport(ctx, svc, cmd.InOrStdin(), out)
	if err != nil || !ok {
		return err
	}
	opts.IncludeTags = !noTags

	fmt.Fprintf(out, "\nExporting policy: %s\n", arn)
	exp, err := svc.Export(ctx, arn, opts)
	if err != nil {
		return err
	}

	name := policyName
	if name == "" {
		name = policy.DefaultName(exp)
	}
	files, err := policy.WriteFiles(outputDir, exp, policy.Template(exp, name, !noTags), time.Now())
	if err != nil {
		return err
	}

	logger.Debug("policy exported",
		zap.String("policy_id", exp.PolicyID),
		zap.String("version", exp.Version),
		zap.Int("tags", len(exp.Tags)),
	)

	printExportSummary(out, exp, name, files)
	return nil
}

// resolveExport picks the policy to export from flags or an interactive menu
func resolveExport(ctx context.Context, svc *policy.Service, in io.Reader, out io.Writer) (string, policy.ExportOptions, bool, error) {
	switch {
	case exportARN != "":
		return exportARN, policy.ExportOptions{}, true, nil

	case exportID != "":
		sum, err := svc.Find(ctx, exportID)
		if err != nil {
			return "", policy.ExportOptions{}, false, err
		}
		version := exportVersion
		if version == "" {
			version = sum.Version
		}
		return policy.VersionARN(sum, version), exportOptions(sum, version), true, nil

	default:
		summaries, err := svc.List(ctx)
		if err != nil {
			return "", policy.ExportOptions{}, false, err
		}
		policy.PrintTable(out, summaries)
		if len(summaries) == 0 {
			return "", policy.ExportOptions{}, false, nil
		}
		sum, ok := policy.Choose(in, out, summaries)
		if !ok {
			return "", policy.ExportOptions{}, false, nil
		}
		return policy.VersionARN(sum, sum.Version), exportOptions(sum, sum.Version), true, nil
	}
}

func exportOptions(sum policy.Summary, version string) policy.ExportOptions {
	return policy.ExportOptions{
		Name:        sum.Name,
		Description: sum.Description,
		PolicyID:    sum.PolicyID,
		Version:     version,
	}
}

func printExportSummary(w io.Writer, exp *policy.Export, name string, files *policy.Files) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, "═══════════════════════════════════════════════════════════")
	fmt.Fprintln(w, "  Export Complete")
	fmt.Fprintln(w, "═══════════════════════════════════════════════════════════")
	fmt.Fprintf(w, "Policy ID:      %s\n", exp.PolicyID)
	fmt.Fprintf(w, "Version:        %s\n", exp.Version)
	fmt.Fprintf(w, "Template name:  %s\n", name)
	fmt.Fprintf(w, "Tags:           %d\n", len(exp.Tags))
	fmt.Fprintln(w)
	fmt.Fprintf(w, "✓ Policy definition:  %s\n", files.PolicyJSON)
	fmt.Fprintf(w, "✓ Template (JSON):    %s\n", files.TemplateJSON)
	fmt.Fprintf(w, "✓ Template (YAML):    %s\n", files.TemplateYAML)
	fmt.Fprintln(w)
	fmt.Fprintln(w, "To deploy the template:")
	fmt.Fprintf(w, "  aws cloudformation create-stack --stack-name %s-stack --template-body file://%s\n", name, files.TemplateYAML)
	fmt.Fprintln(w)
}
