package ui

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/charmbracelet/huh"

	"github.com/mschirtzinger/todosync/internal/model"
)

// ErrNotInteractive is returned when a prompt needs a terminal.
var ErrNotInteractive = errors.New("not running in a terminal")

var hexColor = regexp.MustCompile(`^#([0-9a-fA-F]{3}|[0-9a-fA-F]{6})$`)

// Palette offers a few category colors in the form.
var Palette = []string{"#804040", "#408040", "#404080", "#b08020", "#806080", "#408080"}

func validateTitle(s string) error {
	if strings.TrimSpace(s) == "" {
		return errors.New("title is required")
	}
	return nil
}

func validateColor(s string) error {
	if s == "" || hexColor.MatchString(s) {
		return nil
	}
	return fmt.Errorf("use #rgb or #rrggbb")
}

// CategoryForm asks for a category title and color, starting from cat.
func CategoryForm(cat model.Category) (model.Category, error) {
	title := cat.Title
	color := cat.Color
	if color == "" {
		color = Palette[0]
	}

	options := make([]huh.Option[string], 0, len(Palette)+1)
	for _, c := range Palette {
		options = append(options, huh.NewOption(c, c))
	}
	custom := color
	if !contains(Palette, color) {
		options = append(options, huh.NewOption(custom, custom))
	}

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Title").
				Value(&title).
				Validate(validateTitle),
			huh.NewSelect[string]().
				Title("Color").
				Options(options...).
				Value(&color).
				Validate(validateColor),
		),
	)
	if err := form.Run(); err != nil {
		return cat, fmt.Errorf("form cancelled: %w", err)
	}

	cat.Title = strings.TrimSpace(title)
	cat.Color = color
	return cat, nil
}

// Secret asks for a value without echoing it.
func Secret(title string) (string, error) {
	var value string
	err := huh.NewInput().
		Title(title).
		EchoMode(huh.EchoModePassword).
		Value(&value).
		Validate(func(s string) error {
			if strings.TrimSpace(s) == "" {
				return errors.New("required")
			}
			return nil
		}).
		Run()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(value), nil
}

// Confirm asks a yes/no question.
func Confirm(question string) (bool, error) {
	var yes bool
	err := huh.NewConfirm().
		Title(question).
		Affirmative("Yes").
		Negative("No").
		Value(&yes).
		Run()
	if err != nil {
		return false, err
	}
	return yes, nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}
