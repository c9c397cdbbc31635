package coretools

import (
	"context"
	"fmt"
	"strings"

	"github.com/harun/kagent/internal/skill"
	"github.com/harun/kagent/pkg/toolexec"
)

func listSkillsTool(skills *skill.Manager) toolexec.ToolDefinition {
	return toolexec.ToolDefinition{
		Name:        "list_skills",
		Description: "List the skills available in the workspace. Skills are prompt templates that add specialized capabilities when activated.",
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			if err := skills.Reload(); err != nil {
				return nil, err
			}

			all := skills.List()
			if len(all) == 0 {
				return fmt.Sprintf("No skills found. Create skills in %s/<name>/%s", skill.SkillsDirName, skill.SkillFileName), nil
			}

			var b strings.Builder
			fmt.Fprintf(&b, "Available skills (%d):\n", len(all))
			for _, sk := range all {
				fmt.Fprintf(&b, "- %s: %s\n", sk.Name, sk.Description)
			}
			b.WriteString("Use use_skill to activate one for this session.")
			return b.String(), nil
		},
	}
}

func useSkillTool(skills *skill.Manager, activate func(name string) bool) toolexec.ToolDefinition {
	return toolexec.ToolDefinition{
		Name:        "use_skill",
		Description: "Activate a skill for the current session. Its instructions are added to the system prompt immediately.",
		Parameters: []toolexec.ToolParameter{
			{Name: "name", Type: "string", Description: "Name of the skill to activate", Required: true},
		},
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			name, _ := params["name"].(string)
			name = strings.TrimSpace(name)
			if name == "" {
				return nil, fmt.Errorf("name is required")
			}
			if activate == nil {
				return nil, fmt.Errorf("skill activation is not available")
			}

			if err := skills.Reload(); err != nil {
				return nil, err
			}
			sk, ok := skills.Get(name)
			if !ok {
				names := make([]string, 0)
				for _, s := range skills.List() {
					names = append(names, s.Name)
				}
				if len(names) == 0 {
					return nil, fmt.Errorf("skill %q not found, no skills are available", name)
				}
				return nil, fmt.Errorf("skill %q not found, available: %s", name, strings.Join(names, ", "))
			}

			if !activate(sk.Name) {
				return fmt.Sprintf("Skill %q is already active.", sk.Name), nil
			}
			return fmt.Sprintf("Loaded skill %q: %s", sk.Name, sk.Description), nil
		},
	}
}
