package scoring

// AreaCount is the fixed number of assessment areas in the instrument.
const AreaCount = 24

// MaxTotal is the sum of all area maxima.
const MaxTotal = 200

// Area describes one assessment area: its 1-based index, label and the
// highest grade a clinician can assign for it.
type Area struct {
	Index int
	Label string
	Max   int
}

// Areas is the closed 24-area domain. Indices outside this set are ignored
// by the scoring functions rather than rejected, so records written by a
// newer revision of the instrument still score on the areas known here.
var Areas = []Area{
	{1, "Alertness", 10},
	{2, "Cooperation", 10},
	{3, "Auditory comprehension", 10},
	{4, "Respiration", 10},
	{5, "Respiratory rate for swallow", 5},
	{6, "Dysphasia", 5},
	{7, "Dyspraxia", 5},
	{8, "Dysarthria", 5},
	{9, "Saliva", 5},
	{10, "Lip seal", 5},
	{11, "Tongue movement", 10},
	{12, "Tongue strength", 10},
	{13, "Tongue coordination", 10},
	{14, "Oral preparation", 10},
	{15, "Gag", 5},
	{16, "Palate", 10},
	{17, "Bolus clearance", 10},
	{18, "Oral transit", 10},
	{19, "Cough reflex", 5},
	{20, "Voluntary cough", 10},
	{21, "Voice", 10},
	{22, "Tracheostomy", 10},
	{23, "Pharyngeal phase", 10},
	{24, "Pharyngeal response", 10},
}

// areaMax maps area index to its maximum grade.
var areaMax = func() map[int]int {
	m := make(map[int]int, len(Areas))
	for _, a := range Areas {
		m[a.Index] = a.Max
	}
	return m
}()

// AreaMax returns the maximum grade for an area index, or 0 for an unknown
// index.
func AreaMax(index int) int {
	return areaMax[index]
}
