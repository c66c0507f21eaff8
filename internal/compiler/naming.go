package compiler

import "strings"

// toolName derives spec.md's deterministic tool_name:
// {method_lowercase}_{path_with_slashes_as_dashes}_api.
//
// The worked example in spec.md §8 scenario 1 pins down the exact rule:
// GET /bot-agent/findByAgentId -> get_bot-agent_findByAgentId_api. Splitting
// the path on "/" and rejoining the non-empty segments with "_" reproduces
// that (a dash inside a single segment, like "bot-agent", is untouched;
// only the segment separator becomes "_"). A literal "replace every slash
// with a dash" reading of the prose would instead yield
// get_bot-agent-findByAgentId_api, which the worked example contradicts, so
// the segment-join rule is what's implemented here.
func toolName(method, pathTemplate string) string {
	segments := strings.Split(pathTemplate, "/")
	parts := make([]string, 0, len(segments))
	for _, seg := range segments {
		if seg == "" {
			continue
		}
		parts = append(parts, seg)
	}
	joined := strings.Trim(strings.Join(parts, "_"), "_")
	return strings.ToLower(method) + "_" + joined + "_api"
}
