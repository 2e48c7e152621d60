package domain

import "time"

type Dimensions struct {
	Width  int `json:"width"`
	Height int `json:"height"`
	Depth  int `json:"depth"`
}

type VoxelScale struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

func DefaultVoxelScale() VoxelScale {
	return VoxelScale{X: 1.0, Y: 1.0, Z: 1.0}
}

type ProcessingInfo struct {
	FilesProcessed int       `json:"files_processed"`
	Warnings       []string  `json:"warnings"`
	ProcessedAt    time.Time `json:"processed_at"`
}

type AIVisualization struct {
	URL           string `json:"url"`
	GeneratedFrom string `json:"generated_from"`
}

// VolumeDocument is the JSON sidecar written next to a raw volume.
type VolumeDocument struct {
	DicomMetadata    map[string]Value `json:"dicom_metadata"`
	OutputDimensions Dimensions       `json:"output_dimensions"`
	VoxelScale       VoxelScale       `json:"voxel_scale"`
	ProcessingInfo   *ProcessingInfo  `json:"processing_info,omitempty"`
	AIVisualization  *AIVisualization `json:"ai_visualization,omitempty"`
}

// ImageRecord is the per-volume image row written by the enrich stage.
type ImageRecord struct {
	ID                      string `json:"image_id"`
	ConversionID            string `json:"conversion_id"`
	SOPInstanceUID          string `json:"sop_instance_uid"`
	FilePath                string `json:"file_path"`
	InstanceNumber          string `json:"instance_number"`
	SliceLocation           string `json:"slice_location"`
	ImagePositionPatient    string `json:"image_position_patient"`
	ImageOrientationPatient string `json:"image_orientation_patient"`
	PixelSpacing            string `json:"pixel_spacing"`
}

type MetadataEntry struct {
	Key   string `json:"attribute_key"`
	Value string `json:"attribute_value"`
}
