package models

// PatientMeta 患者展示信息（用于丰富报警记录）
type PatientMeta struct {
	PatientID string `json:"patient_id"`
	Name      string `json:"name"`
	Bed       string `json:"bed"`
}
