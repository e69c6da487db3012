package deepar

import "fmt"

// Forecasting-DeepAR container registries, by region.
var imageRegistries = map[string]string{
	"us-east-1":      "522234722520",
	"us-east-2":      "566113047672",
	"us-west-1":      "632365934929",
	"us-west-2":      "156387875391",
	"ca-central-1":   "469771592824",
	"eu-central-1":   "495149712605",
	"eu-west-1":      "224300973850",
	"eu-west-2":      "644912444149",
	"eu-west-3":      "749696950732",
	"eu-north-1":     "669576153137",
	"ap-northeast-1": "633353088612",
	"ap-northeast-2": "204372634319",
	"ap-southeast-1": "475088953585",
	"ap-southeast-2": "514117268639",
	"ap-south-1":     "991648021394",
	"sa-east-1":      "855470959533",
}

// ImageURI returns the DeepAR training image for region. A non-empty
// override wins.
func ImageURI(region, override string) (string, error) {
	if override != "" {
		return override, nil
	}
	account, ok := imageRegistries[region]
	if !ok {
		return "", fmt.Errorf("no DeepAR image known for region %q; set training.image", region)
	}
	return fmt.Sprintf("%s.dkr.ecr.%s.amazonaws.com/forecasting-deepar:1", account, region), nil
}
