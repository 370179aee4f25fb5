package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"infra-rag-platform/models"
	"infra-rag-platform/services"
)

// roleSeedFile is the YAML layout accepted by roles seed.
type roleSeedFile struct {
	Roles []services.RoleInput `yaml:"roles"`
}

var rolesCmd = &cobra.Command{
	Use:   "roles",
	Short: "Manage routing roles",
}

var rolesSeedCmd = &cobra.Command{
	Use:   "seed <file.yaml>",
	Short: "Create roles from a YAML file, then vectorize any role without a vector",
	Long: `Creates every role listed under "roles:" that does not exist yet (matched by name
and tenant), then embeds active roles that are still missing a vector.`,
	Args: cobra.ExactArgs(1),
	RunE: runRolesSeed,
}

var rolesVectorizeAll bool

var rolesVectorizeCmd = &cobra.Command{
	Use:   "vectorize",
	Short: "Embed role responsibilities",
	Args:  cobra.NoArgs,
	RunE:  runRolesVectorize,
}

var rolesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List roles",
	Args:  cobra.NoArgs,
	RunE:  runRolesList,
}

func init() {
	rolesVectorizeCmd.Flags().BoolVar(&rolesVectorizeAll, "all", false, "re-embed every active role, not only those without a vector")
	rolesCmd.AddCommand(rolesSeedCmd, rolesVectorizeCmd, rolesListCmd)
	rootCmd.AddCommand(rolesCmd)
}

func loadRoleSeed(path string) ([]services.RoleInput, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var seed roleSeedFile
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if len(seed.Roles) == 0 {
		return nil, fmt.Errorf("%s: no roles defined", path)
	}
	return seed.Roles, nil
}

func runRolesSeed(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	inputs, err := loadRoleSeed(args[0])
	if err != nil {
		return err
	}

	existing, err := roleAdmin.ListRoles(ctx, models.RoleFilter{})
	if err != nil {
		return err
	}
	known := make(map[string]bool, len(existing))
	for _, r := range existing {
		known[seedKey(r.Name, r.TenantID)] = true
	}

	created, skipped := 0, 0
	for _, in := range inputs {
		if in.TenantID == "" {
			in.TenantID = tenantID
		}
		if known[seedKey(in.Name, in.TenantID)] {
			skipped++
			continue
		}
		role, err := roleAdmin.CreateRole(ctx, in)
		if err != nil {
			return fmt.Errorf("create %q: %w", in.Name, err)
		}
		known[seedKey(role.Name, role.TenantID)] = true
		created++
		cmd.Printf("created %s (%s)\n", role.Name, role.ID)
	}

	n, err := roleAdmin.VectorizeMissing(ctx)
	cmd.Printf("seeded %d roles, skipped %d existing, vectorized %d\n", created, skipped, n)
	return err
}

func seedKey(name, tenant string) string {
	return strings.ToLower(strings.TrimSpace(name)) + "\x00" + tenant
}

func runRolesVectorize(cmd *cobra.Command, _ []string) error {
	run := roleAdmin.VectorizeMissing
	if rolesVectorizeAll {
		run = roleAdmin.VectorizeAll
	}
	n, err := run(cmd.Context())
	cmd.Printf("vectorized %d roles\n", n)
	return err
}

func runRolesList(cmd *cobra.Command, _ []string) error {
	roles, err := roleAdmin.ListRoles(cmd.Context(), models.RoleFilter{TenantID: tenantID})
	if err != nil {
		return err
	}
	if len(roles) == 0 {
		cmd.Println("No roles defined.")
		return nil
	}
	for _, r := range roles {
		flags := []string{}
		if !r.IsActive {
			flags = append(flags, "inactive")
		}
		if r.IsFallback {
			flags = append(flags, "fallback")
		}
		if r.Vector == nil {
			flags = append(flags, "no vector")
		}
		cmd.Printf("  %-30s %-20s p%d %s\n", r.Name, r.Department, r.Priority, strings.Join(flags, ","))
	}
	return nil
}
