package config

import "testing"

func TestPlanGrid(t *testing.T) {
	// Полная сетка: 5 устройств на 6 сроков плюс тестовый тариф
	want := MaxDevices*len(PlanMonths()) + 1
	if len(Plans) != want {
		t.Fatalf("тарифов %d, ожидали %d", len(Plans), want)
	}
	for devices := 1; devices <= MaxDevices; devices++ {
		for _, months := range PlanMonths() {
			id := PlanID(devices, months)
			plan, ok := Plans[id]
			if !ok {
				t.Fatalf("нет тарифа %s", id)
			}
			if plan.Price <= 0 {
				t.Errorf("%s: цена %d", id, plan.Price)
			}
			if plan.Devices != devices {
				t.Errorf("%s: устройств %d", id, plan.Devices)
			}
			if plan.DataLimitGB != 0 {
				t.Errorf("%s: платный тариф должен быть безлимитным", id)
			}
		}
	}
}

func TestPlanPricesGrow(t *testing.T) {
	// Цена растёт и по сроку, и по числу устройств
	for devices := 1; devices <= MaxDevices; devices++ {
		prev := 0
		for _, months := range PlanMonths() {
			p := Plans[PlanID(devices, months)].Price
			if p <= prev {
				t.Errorf("%d устройств: цена за %d мес. (%d) не больше предыдущей (%d)", devices, months, p, prev)
			}
			prev = p
		}
	}
	for _, months := range PlanMonths() {
		prev := 0
		for devices := 1; devices <= MaxDevices; devices++ {
			p := Plans[PlanID(devices, months)].Price
			if p <= prev {
				t.Errorf("%d мес.: цена за %d устройств (%d) не больше предыдущей (%d)", months, devices, p, prev)
			}
			prev = p
		}
	}
}

func TestFreeTestPlan(t *testing.T) {
	plan, ok := Plans[PlanFreeTest]
	if !ok {
		t.Fatal("нет тестового тарифа")
	}
	if plan.Price != 0 {
		t.Errorf("тестовый тариф должен быть бесплатным, цена %d", plan.Price)
	}
	if plan.DataLimitGB != 3 || plan.ExpiryDays != 3 || plan.Devices != 1 {
		t.Errorf("тестовый тариф: %d GB, %d дней, %d устройств", plan.DataLimitGB, plan.ExpiryDays, plan.Devices)
	}
}

func TestPlanDaysMatchMonths(t *testing.T) {
	// 12 месяцев продаются как 365 дней, остальные кратны 30
	for _, months := range PlanMonths() {
		days := Plans[PlanID(1, months)].ExpiryDays
		want := months * 30
		if months == 12 {
			want = 365
		}
		if days != want {
			t.Errorf("%d мес. = %d дней, ожидали %d", months, days, want)
		}
	}
}
