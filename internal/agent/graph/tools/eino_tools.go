package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/components/tool/utils"
	"github.com/cloudwego/eino/schema"

	"github.com/vayu-advisor/server/internal/agent/model"
)

// ===================================
// Weather Tool
// ===================================

type WeatherInput struct {
	Location  string `json:"location"`
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
}

func NewWeatherTool(p WeatherProvider) tool.InvokableTool {
	return utils.NewTool(
		&schema.ToolInfo{
			Name: model.ToolWeather,
			Desc: "Get forecast weather and air quality for a city and date range (YYYY-MM-DD, at most 16 days ahead).",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"location": {
					Type:     "string",
					Desc:     "City name, e.g. Mumbai or London",
					Required: true,
				},
				"start_date": {
					Type:     "string",
					Desc:     "First day of the trip, YYYY-MM-DD",
					Required: true,
				},
				"end_date": {
					Type:     "string",
					Desc:     "Last day of the trip, YYYY-MM-DD",
					Required: true,
				},
			}),
		},
		func(ctx context.Context, in *WeatherInput) (*model.WeatherReport, error) {
			if strings.TrimSpace(in.Location) == "" {
				return nil, fmt.Errorf("location is required")
			}
			return p.GetWeather(ctx, in.Location, in.StartDate, in.EndDate)
		},
	)
}

// ===================================
// Medical Research Tool
// ===================================

type MedicalInput struct {
	Condition string `json:"condition"`
	K         int    `json:"k,omitempty"`
}

type MedicalOutput struct {
	Findings []model.MedicalFinding `json:"findings"`
	Total    int                    `json:"total"`
}

func NewMedicalTool(s MedicalSearcher, defaultK int) tool.InvokableTool {
	return utils.NewTool(
		&schema.ToolInfo{
			Name: model.ToolMedical,
			Desc: "Search medical research papers for passages about a respiratory condition and environmental triggers.",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"condition": {
					Type:     "string",
					Desc:     "Health condition, e.g. asthma or COPD",
					Required: true,
				},
				"k": {
					Type: "number",
					Desc: "Maximum number of passages to return (default: 5)",
				},
			}),
		},
		func(ctx context.Context, in *MedicalInput) (*MedicalOutput, error) {
			if strings.TrimSpace(in.Condition) == "" {
				return nil, fmt.Errorf("condition is required")
			}
			if in.K <= 0 {
				in.K = defaultK
			}
			findings, err := s.Search(ctx, in.Condition, in.K)
			if err != nil {
				return nil, err
			}
			if findings == nil {
				findings = []model.MedicalFinding{}
			}
			return &MedicalOutput{Findings: findings, Total: len(findings)}, nil
		},
	)
}
