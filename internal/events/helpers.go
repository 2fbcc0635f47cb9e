package events

import (
	"encoding/json"
	"fmt"
)

// SetPlanData sets the Data field with PlanData in a type-safe way.
func (e *ProgressEvent) SetPlanData(data PlanData) error {
	dataMap, err := structToMap(data)
	if err != nil {
		return fmt.Errorf("failed to convert PlanData: %w", err)
	}
	e.Data = dataMap
	return nil
}

// GetPlanData retrieves PlanData from the Data field.
func (e *ProgressEvent) GetPlanData() (*PlanData, error) {
	var data PlanData
	if err := mapToStruct(e.Data, &data); err != nil {
		return nil, fmt.Errorf("failed to parse PlanData: %w", err)
	}
	return &data, nil
}

// SetExecutionData sets the Data field with ExecutionData in a type-safe way.
func (e *ProgressEvent) SetExecutionData(data ExecutionData) error {
	dataMap, err := structToMap(data)
	if err != nil {
		return fmt.Errorf("failed to convert ExecutionData: %w", err)
	}
	e.Data = dataMap
	return nil
}

// GetExecutionData retrieves ExecutionData from the Data field.
func (e *ProgressEvent) GetExecutionData() (*ExecutionData, error) {
	var data ExecutionData
	if err := mapToStruct(e.Data, &data); err != nil {
		return nil, fmt.Errorf("failed to parse ExecutionData: %w", err)
	}
	return &data, nil
}

// SetValidationData sets the Data field with ValidationData in a type-safe way.
func (e *ProgressEvent) SetValidationData(data ValidationData) error {
	dataMap, err := structToMap(data)
	if err != nil {
		return fmt.Errorf("failed to convert ValidationData: %w", err)
	}
	e.Data = dataMap
	return nil
}

// GetValidationData retrieves ValidationData from the Data field.
func (e *ProgressEvent) GetValidationData() (*ValidationData, error) {
	var data ValidationData
	if err := mapToStruct(e.Data, &data); err != nil {
		return nil, fmt.Errorf("failed to parse ValidationData: %w", err)
	}
	return &data, nil
}

// SetRegressionData sets the Data field with RegressionData in a type-safe way.
func (e *ProgressEvent) SetRegressionData(data RegressionData) error {
	dataMap, err := structToMap(data)
	if err != nil {
		return fmt.Errorf("failed to convert RegressionData: %w", err)
	}
	e.Data = dataMap
	return nil
}

// GetRegressionData retrieves RegressionData from the Data field.
func (e *ProgressEvent) GetRegressionData() (*RegressionData, error) {
	var data RegressionData
	if err := mapToStruct(e.Data, &data); err != nil {
		return nil, fmt.Errorf("failed to parse RegressionData: %w", err)
	}
	return &data, nil
}

// SetCompletionData sets the Data field with CompletionData in a type-safe way.
func (e *ProgressEvent) SetCompletionData(data CompletionData) error {
	dataMap, err := structToMap(data)
	if err != nil {
		return fmt.Errorf("failed to convert CompletionData: %w", err)
	}
	e.Data = dataMap
	return nil
}

// GetCompletionData retrieves CompletionData from the Data field.
func (e *ProgressEvent) GetCompletionData() (*CompletionData, error) {
	var data CompletionData
	if err := mapToStruct(e.Data, &data); err != nil {
		return nil, fmt.Errorf("failed to parse CompletionData: %w", err)
	}
	return &data, nil
}

// structToMap converts a struct to map[string]interface{} using JSON marshaling.
func structToMap(data interface{}) (map[string]interface{}, error) {
	bytes, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	var result map[string]interface{}
	if err := json.Unmarshal(bytes, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// mapToStruct converts a map[string]interface{} to a struct using JSON unmarshaling.
func mapToStruct(dataMap map[string]interface{}, target interface{}) error {
	bytes, err := json.Marshal(dataMap)
	if err != nil {
		return err
	}
	return json.Unmarshal(bytes, target)
}
