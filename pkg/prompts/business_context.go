package prompts

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// BusinessContext holds company facts the synthesis prompt may rely on, such
// as the product range or sales regions. It is loaded from a YAML file.
type BusinessContext struct {
	Company     string   `yaml:"company"`
	Description string   `yaml:"description"`
	Regions     []string `yaml:"regions"`
	Categories  []string `yaml:"categories"`
	Facts       []string `yaml:"facts"`
}

// LoadBusinessContext reads a business context file. An empty path returns
// nil without error.
func LoadBusinessContext(path string) (*BusinessContext, error) {
	if path == "" {
		return nil, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read business context %s: %w", path, err)
	}

	var bc BusinessContext
	if err := yaml.Unmarshal(data, &bc); err != nil {
		return nil, fmt.Errorf("failed to parse business context %s: %w", path, err)
	}
	return &bc, nil
}

// Format renders the context as prompt text. A nil context renders as "".
func (bc *BusinessContext) Format() string {
	if bc == nil {
		return ""
	}

	var b strings.Builder
	if bc.Company != "" {
		b.WriteString(fmt.Sprintf("Company: %s\n", bc.Company))
	}
	if bc.Description != "" {
		b.WriteString(bc.Description + "\n")
	}
	if len(bc.Regions) > 0 {
		b.WriteString(fmt.Sprintf("Regions: %s\n", strings.Join(bc.Regions, ", ")))
	}
	if len(bc.Categories) > 0 {
		b.WriteString(fmt.Sprintf("Product categories: %s\n", strings.Join(bc.Categories, ", ")))
	}
	for _, fact := range bc.Facts {
		b.WriteString("- " + fact + "\n")
	}
	return b.String()
}
