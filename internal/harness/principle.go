package harness

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/roach88/recipesync/internal/compiler"
)

// ScenarioNotFoundError is returned when a referenced scenario file doesn't exist.
type ScenarioNotFoundError struct {
	Principle    string
	ScenarioPath string
	ResolvedPath string
}

// Error implements the error interface.
func (e *ScenarioNotFoundError) Error() string {
	return fmt.Sprintf(
		"operational principle %q references scenario file %q which does not exist (resolved to: %s)",
		e.Principle,
		e.ScenarioPath,
		e.ResolvedPath,
	)
}

// ExtractScenarios returns the scenario file a principle references,
// resolved against rulesDir. A principle with no scenario is prose only
// and yields an empty list.
func ExtractScenarios(principle compiler.Principle, rulesDir string) ([]string, error) {
	if principle.Scenario == "" {
		return []string{}, nil
	}

	scenarioPath := principle.Scenario
	if !filepath.IsAbs(scenarioPath) {
		scenarioPath = filepath.Join(rulesDir, scenarioPath)
	}
	if _, err := os.Stat(scenarioPath); os.IsNotExist(err) {
		return nil, &ScenarioNotFoundError{
			Principle:    principle.Description,
			ScenarioPath: principle.Scenario,
			ResolvedPath: scenarioPath,
		}
	}
	return []string{scenarioPath}, nil
}

// ValidationResult contains results from validating operational principles.
type ValidationResult struct {
	TotalPrinciples int                `json:"total_principles"`
	TotalScenarios  int                `json:"total_scenarios"`
	Passed          int                `json:"passed"`
	Failed          int                `json:"failed"`
	Skipped         int                `json:"skipped"` // Principles without scenarios
	Failures        []PrincipleFailure `json:"failures,omitempty"`
}

// PrincipleFailure represents a failed operational principle validation.
type PrincipleFailure struct {
	ConceptName  string `json:"concept_name"`
	Principle    string `json:"principle"`
	ScenarioPath string `json:"scenario_path"`
	Error        string `json:"error"`
}

// ValidatePrinciples runs the scenario of every operational principle the
// manifest declares and summarizes the outcome. Scenario paths are
// relative to rulesDir. opts are passed to every Run.
func ValidatePrinciples(
	ctx context.Context,
	manifest *compiler.Manifest,
	rulesDir string,
	opts ...Option,
) (*ValidationResult, error) {
	result := &ValidationResult{}

	for _, decl := range manifest.Concepts {
		for _, principle := range decl.Principles {
			result.TotalPrinciples++

			fail := func(path, msg string) {
				result.Failed++
				result.Failures = append(result.Failures, PrincipleFailure{
					ConceptName:  decl.Name,
					Principle:    principle.Description,
					ScenarioPath: path,
					Error:        msg,
				})
			}

			scenarioPaths, err := ExtractScenarios(principle, rulesDir)
			if err != nil {
				fail(principle.Scenario, err.Error())
				continue
			}
			if len(scenarioPaths) == 0 {
				result.Skipped++
				continue
			}

			for _, scenarioPath := range scenarioPaths {
				result.TotalScenarios++

				scenario, err := LoadScenario(scenarioPath)
				if err != nil {
					fail(scenarioPath, fmt.Sprintf("failed to load scenario: %v", err))
					continue
				}

				runResult, err := Run(ctx, scenario, opts...)
				if err != nil {
					fail(scenarioPath, fmt.Sprintf("scenario execution failed: %v", err))
					continue
				}
				if !runResult.Pass {
					fail(scenarioPath, fmt.Sprintf("scenario assertions failed: %v", runResult.Errors))
					continue
				}

				result.Passed++
			}
		}
	}

	return result, nil
}
