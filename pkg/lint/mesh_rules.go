package lint

import (
	"fmt"

	"github.com/opd-ai/speccade/pkg/artifact"
)

// MeshReport carries the measurements the Tier-2 mesh backend records for
// a GLB artifact. The rules are core; the measuring is not.
type MeshReport struct {
	artifact.GLBMetrics

	NonManifoldEdges  int     `json:"non_manifold_edges"`
	DegenerateFaces   int     `json:"degenerate_faces"`
	UnweightedVerts   int     `json:"unweighted_verts"`
	InvertedNormals   int     `json:"inverted_normals"`
	IsolatedVerts     int     `json:"isolated_verts"`
	NGonCount         int     `json:"ngon_count"`
	FaceCount         int     `json:"face_count"`
	VertexCount       int     `json:"vertex_count"`
	HasUVs            bool    `json:"has_uvs"`
	UVOverlapFraction float64 `json:"uv_overlap_fraction"`
	UVMaxStretch      float64 `json:"uv_max_stretch"`
	MaterialCount     int     `json:"material_count"`
	IsHumanoid        bool    `json:"is_humanoid"`
	HeadToBodyRatio   float64 `json:"head_to_body_ratio"`
}

// CheckMesh runs the mesh rule set over a measurement report.
func CheckMesh(r *MeshReport, opts *Options) []Issue {
	var issues []Issue

	if r.NonManifoldEdges > 0 {
		issues = append(issues, Issue{
			RuleID: "mesh/non-manifold", Severity: SeverityError,
			Message:    fmt.Sprintf("%d non-manifold edges", r.NonManifoldEdges),
			Suggestion: "merge duplicate vertices and remove interior faces",
		})
	}
	if r.DegenerateFaces > 0 {
		issues = append(issues, Issue{
			RuleID: "mesh/degenerate-faces", Severity: SeverityError,
			Message:    fmt.Sprintf("%d zero-area faces", r.DegenerateFaces),
			Suggestion: "run a merge-by-distance cleanup",
		})
	}
	if r.BoneCount > 0 && r.UnweightedVerts > 0 {
		issues = append(issues, Issue{
			RuleID: "mesh/unweighted-verts", Severity: SeverityError,
			Message:    fmt.Sprintf("%d vertices carry no bone weight", r.UnweightedVerts),
			Suggestion: "assign or normalize vertex groups",
		})
	}
	if r.InvertedNormals > r.FaceCount/10 {
		issues = append(issues, Issue{
			RuleID: "mesh/inverted-normals", Severity: SeverityError,
			Message:    fmt.Sprintf("%d inward-facing normals", r.InvertedNormals),
			Suggestion: "recalculate normals outside",
		})
	}
	if r.IsHumanoid && (r.HeadToBodyRatio < 0.10 || r.HeadToBodyRatio > 0.35) {
		issues = append(issues, Issue{
			RuleID: "mesh/humanoid-proportions", Severity: SeverityWarning,
			Message:    fmt.Sprintf("head/body ratio %.2f outside plausible range", r.HeadToBodyRatio),
			Suggestion: "expected roughly 1/8 to 1/3 of total height",
		})
	}
	if r.HasUVs && r.UVOverlapFraction > 0.01 {
		issues = append(issues, Issue{
			RuleID: "mesh/uv-overlap", Severity: SeverityWarning,
			Message:    fmt.Sprintf("%.1f%% of UV area overlaps", r.UVOverlapFraction*100),
			Suggestion: "repack islands with margin",
		})
	}
	if r.HasUVs && r.UVMaxStretch > 2.0 {
		issues = append(issues, Issue{
			RuleID: "mesh/uv-stretch", Severity: SeverityWarning,
			Message:    fmt.Sprintf("max UV stretch %.1fx", r.UVMaxStretch),
			Suggestion: "add seams where texel density collapses",
		})
	}
	if r.MaterialCount == 0 {
		issues = append(issues, Issue{
			RuleID: "mesh/missing-material", Severity: SeverityWarning,
			Message:    "no material slot assigned",
			Suggestion: "assign at least a placeholder material",
		})
	}
	if r.NGonCount > r.FaceCount/5 {
		issues = append(issues, Issue{
			RuleID: "mesh/excessive-ngons", Severity: SeverityWarning,
			Message:    fmt.Sprintf("%d n-gons among %d faces", r.NGonCount, r.FaceCount),
			Suggestion: "triangulate or re-topologize",
		})
	}
	if r.IsolatedVerts > 0 {
		issues = append(issues, Issue{
			RuleID: "mesh/isolated-verts", Severity: SeverityWarning,
			Message:    fmt.Sprintf("%d vertices belong to no face", r.IsolatedVerts),
			Suggestion: "delete loose geometry",
		})
	}
	if r.TriangleCount > 100000 {
		issues = append(issues, Issue{
			RuleID: "mesh/high-poly", Severity: SeverityInfo,
			Message:    fmt.Sprintf("%d triangles is heavy for a game asset", r.TriangleCount),
			Suggestion: "decimate or bake detail to a normal map",
		})
	}
	if !r.HasUVs {
		issues = append(issues, Issue{
			RuleID: "mesh/no-uvs", Severity: SeverityInfo,
			Message:    "mesh has no UV layer",
			Suggestion: "unwrap before texturing",
		})
	}

	return filter(issues, opts)
}
