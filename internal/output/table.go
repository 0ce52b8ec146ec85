package output

import (
	"fmt"
	"sort"
	"strings"

	"github.com/blackwell-systems/keg/internal/formula"
	"github.com/blackwell-systems/keg/internal/installer"
	"github.com/blackwell-systems/keg/internal/store"
)

// InstalledRow is one formula in the installed list.
type InstalledRow struct {
	Name      string   `json:"name" yaml:"name"`
	Versions  []string `json:"versions" yaml:"versions"`
	Linked    string   `json:"linked_version,omitempty" yaml:"linked_version,omitempty"`
	Pinned    bool     `json:"pinned" yaml:"pinned"`
	OnRequest bool     `json:"installed_on_request" yaml:"installed_on_request"`
	Size      int64    `json:"size_bytes" yaml:"size_bytes"`
}

// RenderInstalledTable renders installed formulae sorted by name.
func RenderInstalledTable(rows []InstalledRow) string {
	if len(rows) == 0 {
		return "No formulae installed.\n"
	}

	sorted := make([]InstalledRow, len(rows))
	copy(sorted, rows)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	var sb strings.Builder
	sb.WriteString(Heading(fmt.Sprintf("%-24s %-24s %-10s %s", "Formula", "Versions", "Size", "Flags")))
	sb.WriteString("\n")
	sb.WriteString(strings.Repeat("─", 70))
	sb.WriteString("\n")

	for _, r := range sorted {
		versions := make([]string, 0, len(r.Versions))
		for _, v := range r.Versions {
			if v == r.Linked {
				v += "*"
			}
			versions = append(versions, v)
		}

		var flags []string
		if r.Pinned {
			flags = append(flags, "pinned")
		}
		if !r.OnRequest {
			flags = append(flags, "dependency")
		}
		if r.Linked == "" {
			flags = append(flags, "unlinked")
		}

		sb.WriteString(fmt.Sprintf("%-24s %-24s %-10s %s\n",
			truncate(r.Name, 24),
			truncate(strings.Join(versions, " "), 24),
			FormatSize(r.Size),
			Muted(strings.Join(flags, ", "))))
	}
	return sb.String()
}

// RenderInstallReport renders one line per installed, skipped or failed
// formula, followed by its warnings.
func RenderInstallReport(r *installer.InstallReport) string {
	if len(r.Results) == 0 {
		return "Nothing to install.\n"
	}
	var sb strings.Builder
	for _, res := range r.Results {
		switch res.Outcome {
		case installer.OutcomeFailed:
			sb.WriteString(fmt.Sprintf("%s %s\n", Error("✗"), res.Err))
		case installer.OutcomeAlreadyInstalled, installer.OutcomePinned:
			sb.WriteString(fmt.Sprintf("%s %s %s %s\n", Muted("-"), res.Name, res.Version, Muted(res.Outcome.String())))
		default:
			detail := string(res.Backend)
			if res.Elapsed > 0 {
				detail += ", " + formatElapsed(res.Elapsed)
			}
			if !res.Requested {
				detail += ", dependency"
			}
			sb.WriteString(fmt.Sprintf("%s %s %s %s %s\n", Success("✓"), res.Name, res.Version, res.Outcome, Muted("("+detail+")")))
		}
		writeWarnings(&sb, res.Warnings)
	}
	return sb.String()
}

// RenderUpgradeReport renders the outcome of each upgrade.
func RenderUpgradeReport(r *installer.UpgradeReport) string {
	if len(r.Results) == 0 {
		return "Everything is up to date.\n"
	}
	var sb strings.Builder
	for _, res := range r.Results {
		for _, dep := range res.Dependencies {
			sb.WriteString(RenderInstallReport(&installer.InstallReport{Results: []installer.InstallResult{dep}}))
		}
		switch res.Outcome {
		case installer.OutcomeFailed:
			sb.WriteString(fmt.Sprintf("%s %s\n", Error("✗"), res.Err))
		case installer.OutcomeUpToDate:
			sb.WriteString(fmt.Sprintf("%s %s %s already up to date\n", Muted("-"), res.Name, res.FromVersion))
		case installer.OutcomePinned:
			sb.WriteString(fmt.Sprintf("%s %s %s is pinned\n", Muted("-"), res.Name, res.FromVersion))
		default:
			sb.WriteString(fmt.Sprintf("%s %s %s -> %s %s\n", Success("✓"), res.Name, res.FromVersion, res.ToVersion,
				Muted("("+string(res.Backend)+", "+formatElapsed(res.Elapsed)+")")))
		}
		writeWarnings(&sb, res.Warnings)
	}
	return sb.String()
}

// RenderOutdatedTable lists formulae with newer versions available.
func RenderOutdatedTable(entries []installer.OutdatedEntry) string {
	if len(entries) == 0 {
		return "Everything is up to date.\n"
	}
	var sb strings.Builder
	sb.WriteString(Heading(fmt.Sprintf("%-24s %-16s %-16s", "Formula", "Installed", "Available")))
	sb.WriteString("\n")
	for _, e := range entries {
		line := fmt.Sprintf("%-24s %-16s %-16s", truncate(e.Name, 24), e.Installed, e.Available)
		if e.Pinned {
			line += " " + Muted("[pinned]")
		}
		sb.WriteString(strings.TrimRight(line, " "))
		sb.WriteString("\n")
	}
	return sb.String()
}

// RenderUninstallResult renders a single uninstall.
func RenderUninstallResult(r *installer.UninstallResult) string {
	return fmt.Sprintf("Uninstalled %s %s (%d links, %s)\n",
		r.Name, strings.Join(r.Removed, ", "), r.Unlinked, FormatSize(r.Freed))
}

// RenderCleanupReport lists removed versions and the space freed. In dry
// run mode the wording says what would happen.
func RenderCleanupReport(r *installer.CleanupReport) string {
	verb, total := "Removing", "Freed"
	if r.DryRun {
		verb, total = "Would remove", "Would free"
	}

	var sb strings.Builder
	for _, item := range r.Removed {
		sb.WriteString(fmt.Sprintf("%s %s (%s)\n", verb, item.Path, FormatSize(item.Size)))
	}
	for _, item := range r.Downloads {
		sb.WriteString(fmt.Sprintf("%s %s (%s)\n", verb, item.Path, FormatSize(item.Size)))
	}
	for _, link := range r.BrokenLinks {
		sb.WriteString(fmt.Sprintf("%s broken link %s\n", verb, link))
	}
	for _, err := range r.Errors {
		sb.WriteString(fmt.Sprintf("%s %v\n", Error("✗"), err))
	}
	if len(r.Removed) == 0 && len(r.Downloads) == 0 && len(r.BrokenLinks) == 0 {
		sb.WriteString("Nothing to clean up.\n")
		return sb.String()
	}
	sb.WriteString(fmt.Sprintf("%s %s.\n", total, FormatSize(r.Freed)))
	return sb.String()
}

// RenderAutoremoveReport lists the formulae autoremove selected.
func RenderAutoremoveReport(r *installer.AutoremoveReport) string {
	if len(r.Removed) == 0 {
		return "No unused dependencies to remove.\n"
	}
	verb, total := "Uninstalled", "Freed"
	if r.DryRun {
		verb, total = "Would uninstall", "Would free"
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%s %d unused dependencies:\n", verb, len(r.Removed)))
	for _, res := range r.Removed {
		if res.Err != nil {
			sb.WriteString(fmt.Sprintf("  %s %v\n", Error("✗"), res.Err))
			continue
		}
		sb.WriteString(fmt.Sprintf("  %s %s\n", res.Name, Muted(strings.Join(res.Removed, ", "))))
	}
	sb.WriteString(fmt.Sprintf("%s %s.\n", total, FormatSize(r.Freed)))
	return sb.String()
}

// RenderHistoryTable renders recorded operations, newest first.
func RenderHistoryTable(entries []*store.HistoryEntry) string {
	if len(entries) == 0 {
		return "No history recorded.\n"
	}

	var sb strings.Builder
	sb.WriteString(Heading(fmt.Sprintf("%-6s %-16s %-11s %-20s %-20s %s", "ID", "When", "Action", "Formula", "Version", "Outcome")))
	sb.WriteString("\n")
	sb.WriteString(strings.Repeat("─", 90))
	sb.WriteString("\n")

	for _, e := range entries {
		ver := e.Version
		if e.FromVersion != "" {
			ver = e.FromVersion + " -> " + e.Version
		}
		outcome := e.Outcome
		if outcome == installer.OutcomeFailed.String() {
			outcome = Error(outcome)
		}
		sb.WriteString(fmt.Sprintf("%-6d %-16s %-11s %-20s %-20s %s\n",
			e.ID,
			formatRelativeTime(e.CreatedAt),
			e.Action,
			truncate(e.Formula, 20),
			truncate(ver, 20),
			outcome))
	}
	return sb.String()
}

// RenderSnapshotTable renders a table of snapshots.
func RenderSnapshotTable(snapshots []*store.Snapshot) string {
	if len(snapshots) == 0 {
		return "No snapshots available.\n"
	}

	var sb strings.Builder
	sb.WriteString(Heading(fmt.Sprintf("%-6s %-20s %-10s %s", "ID", "Created", "Packages", "Reason")))
	sb.WriteString("\n")
	sb.WriteString(strings.Repeat("─", 60))
	sb.WriteString("\n")

	for _, snap := range snapshots {
		sb.WriteString(fmt.Sprintf("%-6d %-20s %-10d %s\n",
			snap.ID,
			formatRelativeTime(snap.CreatedAt),
			snap.PackageCount,
			snap.Reason))
	}
	return sb.String()
}

// RenderDependencyTree draws root and its dependencies as an indented
// tree. A name already on the current path is printed once more, marked,
// and not expanded again.
func RenderDependencyTree(root string, children func(string) []string) string {
	var sb strings.Builder
	sb.WriteString(root)
	sb.WriteString("\n")
	writeTree(&sb, root, "", children, map[string]bool{root: true})
	return sb.String()
}

func writeTree(sb *strings.Builder, name, indent string, children func(string) []string, path map[string]bool) {
	kids := children(name)
	for i, kid := range kids {
		branch, next := "├── ", "│   "
		if i == len(kids)-1 {
			branch, next = "└── ", "    "
		}
		if path[kid] {
			sb.WriteString(indent + branch + kid + " " + Muted("(cycle)") + "\n")
			continue
		}
		sb.WriteString(indent + branch + kid + "\n")
		path[kid] = true
		writeTree(sb, kid, indent+next, children, path)
		delete(path, kid)
	}
}

// RenderSearchResults lists formula and cask hits in rank order.
func RenderSearchResults(r *formula.SearchResult) string {
	if r.Empty() {
		return "No formulae or casks found.\n"
	}
	var sb strings.Builder
	if len(r.Formulae) > 0 {
		sb.WriteString(Heading("==> Formulae"))
		sb.WriteString("\n")
		for _, f := range r.Formulae {
			sb.WriteString(fmt.Sprintf("%-28s %s\n", f.FullName, Muted(truncate(f.Description, 60))))
		}
	}
	if len(r.Casks) > 0 {
		if len(r.Formulae) > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(Heading("==> Casks"))
		sb.WriteString("\n")
		for _, c := range r.Casks {
			sb.WriteString(fmt.Sprintf("%-28s %s\n", c.Token, Muted(truncate(c.Description, 60))))
		}
	}
	return sb.String()
}

// FormulaInfo is the info command's view of one formula.
type FormulaInfo struct {
	Formula   *formula.Formula `json:"formula" yaml:"formula"`
	Installed []string         `json:"installed_versions" yaml:"installed_versions"`
	Linked    string           `json:"linked_version,omitempty" yaml:"linked_version,omitempty"`
	Pinned    bool             `json:"pinned" yaml:"pinned"`
	Bottle    bool             `json:"bottle_available" yaml:"bottle_available"`
}

// RenderFormulaInfo renders a formula's metadata and local state.
func RenderFormulaInfo(info FormulaInfo) string {
	f := info.Formula
	var sb strings.Builder
	sb.WriteString(Heading(fmt.Sprintf("==> %s: stable %s", f.FullName, f.PkgVersion())))
	if f.KegOnly {
		sb.WriteString(" " + Muted("[keg-only]"))
	}
	sb.WriteString("\n")
	if f.Description != "" {
		sb.WriteString(f.Description + "\n")
	}
	if f.Homepage != "" {
		sb.WriteString(f.Homepage + "\n")
	}
	if f.License != "" {
		sb.WriteString("License: " + f.License + "\n")
	}
	if f.KegOnlyReason != nil && f.KegOnlyReason.Explanation != "" {
		sb.WriteString("Keg-only: " + f.KegOnlyReason.Explanation + "\n")
	}

	bottle := "no"
	if info.Bottle {
		bottle = "yes"
	}
	sb.WriteString("Bottle: " + bottle + "\n")
	if len(f.Dependencies) > 0 {
		sb.WriteString("Dependencies: " + strings.Join(f.Dependencies, ", ") + "\n")
	}
	if len(f.BuildDependencies) > 0 {
		sb.WriteString("Build dependencies: " + strings.Join(f.BuildDependencies, ", ") + "\n")
	}

	if len(info.Installed) == 0 {
		sb.WriteString("Not installed\n")
		return sb.String()
	}
	for _, v := range info.Installed {
		line := "Installed: " + v
		if v == info.Linked {
			line += " " + Success("(linked)")
		}
		if info.Pinned && v == info.Linked {
			line += " " + Muted("(pinned)")
		}
		sb.WriteString(line + "\n")
	}
	return sb.String()
}

func writeWarnings(sb *strings.Builder, warnings []string) {
	for _, w := range warnings {
		sb.WriteString(fmt.Sprintf("  %s %s\n", Warning("warning:"), w))
	}
}
