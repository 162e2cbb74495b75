package pipeline

// Name is an iris species
type Name struct {
	ID   uint   `gorm:"primaryKey" json:"id"`
	Name string `gorm:"uniqueIndex;size:50;not null" json:"name" validate:"required,max=50"`
}

func (Name) TableName() string { return "names" }

// Flower is one measured sample
type Flower struct {
	ID          uint    `gorm:"primaryKey" json:"id"`
	NameID      uint    `gorm:"index;not null" json:"name_id" validate:"required"`
	SepalLength float64 `json:"sepal_length" validate:"gt=0"`
	SepalWidth  float64 `json:"sepal_width" validate:"gt=0"`
	PetalLength float64 `json:"petal_length" validate:"gt=0"`
	PetalWidth  float64 `json:"petal_width" validate:"gt=0"`
}

func (Flower) TableName() string { return "flowers" }

// Statistics holds the measurement means of one species. Means stay nil
// until measure-statistics has run.
type Statistics struct {
	ID              uint     `gorm:"primaryKey" json:"id"`
	NameID          uint     `gorm:"uniqueIndex;not null" json:"name_id" validate:"required"`
	Samples         int64    `json:"samples" validate:"gte=0"`
	MeanSepalLength *float64 `json:"mean_sepal_length,omitempty"`
	MeanSepalWidth  *float64 `json:"mean_sepal_width,omitempty"`
	MeanPetalLength *float64 `json:"mean_petal_length,omitempty"`
	MeanPetalWidth  *float64 `json:"mean_petal_width,omitempty"`
}

func (Statistics) TableName() string { return "statistics" }

// Models returns every model createdb migrates
func Models() []any {
	return []any{&Name{}, &Flower{}, &Statistics{}}
}
