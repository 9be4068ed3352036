package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/AlecAivazis/survey/v2"

	"github.com/dyike/tradecouncil/consts"
	"github.com/dyike/tradecouncil/models"
)

func validateTicker(val interface{}) error {
	_, err := models.NormalizeTicker(val.(string))
	return err
}

// promptForTicker prompts the user to enter a stock ticker symbol
func promptForTicker() (string, error) {
	var ticker string
	prompt := &survey.Input{
		Message: "Enter the stock ticker symbol (e.g., AAPL, MSFT, NVDA):",
		Help:    "Please enter a valid stock ticker symbol for analysis",
	}
	if err := survey.AskOne(prompt, &ticker, survey.WithValidator(validateTicker)); err != nil {
		return "", err
	}
	return strings.TrimSpace(strings.ToUpper(ticker)), nil
}

// promptForDate prompts for the trade date, defaulting to today
func promptForDate() (string, error) {
	var dateStr string
	prompt := &survey.Input{
		Message: "Enter the analysis date (YYYY-MM-DD):",
		Help:    "Format: YYYY-MM-DD (e.g., 2025-03-14).",
		Default: time.Now().Format(models.DateLayout),
	}
	err := survey.AskOne(prompt, &dateStr, survey.WithValidator(func(val interface{}) error {
		parsed, err := time.Parse(models.DateLayout, strings.TrimSpace(val.(string)))
		if err != nil {
			return fmt.Errorf("invalid date format, use YYYY-MM-DD")
		}
		if parsed.After(time.Now().AddDate(0, 0, 1)) {
			return fmt.Errorf("analysis date cannot be in the future")
		}
		return nil
	}))
	return strings.TrimSpace(dateStr), err
}

// promptForAnalysts prompts the user to select analyst team members
func promptForAnalysts(defaults []string) ([]string, error) {
	options := make([]string, len(consts.Analysts))
	byLabel := make(map[string]string, len(consts.Analysts))
	for i, r := range consts.Analysts {
		options[i] = r.Label()
		byLabel[r.Label()] = r.AnalystKey()
	}
	var preset []string
	if selected, err := consts.ParseAnalysts(defaults); err == nil {
		for _, r := range selected {
			preset = append(preset, r.Label())
		}
	}

	var chosen []string
	prompt := &survey.MultiSelect{
		Message: "Select analyst team members:",
		Options: options,
		Help:    "Use space to select, enter to confirm.",
		Default: preset,
	}
	if err := survey.AskOne(prompt, &chosen, survey.WithValidator(survey.MinItems(1))); err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(chosen))
	for _, label := range chosen {
		keys = append(keys, byLabel[label])
	}
	return keys, nil
}

// promptForRounds asks how many debate rounds each loop runs
func promptForRounds(def int) (int, error) {
	options := []string{
		"1 - Quick analysis",
		"2 - Balanced analysis",
		"3 - Comprehensive analysis",
	}
	if def < 1 || def > len(options) {
		def = 1
	}
	var selected string
	prompt := &survey.Select{
		Message: "Select research depth:",
		Options: options,
		Help:    "More rounds give more thorough debates but take longer.",
		Default: options[def-1],
	}
	if err := survey.AskOne(prompt, &selected); err != nil {
		return 0, err
	}
	var rounds int
	_, err := fmt.Sscanf(selected, "%d", &rounds)
	return rounds, err
}
