package hierarchy

// PatientNode is one branch of the patient -> study -> series view of a pass.
type PatientNode struct {
	PatientID string      `json:"patient_id"`
	Studies   []StudyNode `json:"studies"`
}

type StudyNode struct {
	StudyID string       `json:"study_id"`
	Series  []SeriesNode `json:"series"`
}

type SeriesNode struct {
	SeriesID   string   `json:"series_id"`
	Modalities []string `json:"modalities"`
}

// treeIndex keeps encounter order at every level.
type treeIndex struct {
	patients []PatientNode
	position map[string]int
}

func newTreeIndex() *treeIndex {
	return &treeIndex{position: make(map[string]int)}
}

func (t *treeIndex) add(patientID, studyID, seriesID, modality string) {
	p, ok := t.position[patientID]
	if !ok {
		p = len(t.patients)
		t.position[patientID] = p
		t.patients = append(t.patients, PatientNode{PatientID: patientID})
	}
	patient := &t.patients[p]

	s := -1
	for i := range patient.Studies {
		if patient.Studies[i].StudyID == studyID {
			s = i
			break
		}
	}
	if s < 0 {
		s = len(patient.Studies)
		patient.Studies = append(patient.Studies, StudyNode{StudyID: studyID})
	}
	study := &patient.Studies[s]

	for i := range study.Series {
		if study.Series[i].SeriesID == seriesID {
			study.Series[i].Modalities = appendUnique(study.Series[i].Modalities, modality)
			return
		}
	}
	study.Series = append(study.Series, SeriesNode{SeriesID: seriesID, Modalities: appendUnique(nil, modality)})
}

func (t *treeIndex) snapshot() []PatientNode {
	out := make([]PatientNode, len(t.patients))
	for i, p := range t.patients {
		studies := make([]StudyNode, len(p.Studies))
		for j, st := range p.Studies {
			series := make([]SeriesNode, len(st.Series))
			for k, se := range st.Series {
				series[k] = SeriesNode{SeriesID: se.SeriesID, Modalities: append([]string(nil), se.Modalities...)}
			}
			studies[j] = StudyNode{StudyID: st.StudyID, Series: series}
		}
		out[i] = PatientNode{PatientID: p.PatientID, Studies: studies}
	}
	return out
}
