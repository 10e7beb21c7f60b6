package models

// DirectoryIndex is the four-level hierarchy described by a DICOMDIR-style
// index file: patients, their studies, the studies' series, and the series'
// instances. List order everywhere is encounter order from the source index;
// nothing is re-sorted, because traversal order determines output numbering.
type DirectoryIndex struct {
	Patients []Patient
}

// Patient is one patient-level record and its studies.
type Patient struct {
	ID      string
	Studies []Study
}

// Study is one study-level record and its series.
type Study struct {
	Date   string
	Series []Series
}

// Series is one series-level record and its instances.
type Series struct {
	Number    string
	Instances []Instance
}

// Instance is one instance-level record. ReferencedPath is the referenced-file
// attribute resolved against the index file's own directory.
type Instance struct {
	ReferencedPath string
}

// Instances flattens the index in strict encounter order: patients, then each
// patient's studies, then each study's series, then each series' instances.
func (d *DirectoryIndex) Instances() []Instance {
	var out []Instance
	for _, p := range d.Patients {
		for _, st := range p.Studies {
			for _, se := range st.Series {
				out = append(out, se.Instances...)
			}
		}
	}
	return out
}
